package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"sealbid/internal/api"
	"sealbid/internal/config"
	"sealbid/internal/events"
	"sealbid/internal/factory"
	"sealbid/internal/token"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	dbPath     = flag.String("db", "", "注册表数据库路径，覆盖配置文件")
	port       = flag.Int("port", 8080, "API 服务端口")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	// 设置日志级别
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// 自动检测并加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("加载配置失败: %v", err)
	}
	if *dbPath != "" {
		cfg.Registry.DBPath = *dbPath
	}

	// 创建事件发布器
	var brokers []string
	topics := map[string]string{}
	if cfg.Events.Kafka != nil {
		brokers = cfg.Events.Kafka.Brokers
		topics = cfg.Events.Kafka.Topics
	}
	publisher, err := events.NewPublisher(cfg.Events.Format, cfg.Events.Directory, brokers, topics, logger)
	if err != nil {
		logger.Fatalf("创建事件发布器失败: %v", err)
	}
	defer publisher.Close()

	// 打开注册表并创建工厂
	store, err := factory.NewStore(cfg.Registry.DBPath, logger)
	if err != nil {
		logger.Fatalf("打开注册表失败: %v", err)
	}

	bank := token.NewBank(logger)
	f, err := factory.NewFactory(
		common.HexToAddress(cfg.Factory.Address),
		common.HexToAddress(cfg.Factory.Admin),
		cfg.Factory.Entropy,
		store, bank, publisher, logger,
	)
	if err != nil {
		logger.Fatalf("创建工厂失败: %v", err)
	}
	defer f.Close()

	// 创建API服务器
	server := api.NewServer(cfg, f, bank, logger, *port)
	if dsn := os.Getenv("SEALBID_DB_DSN"); dsn != "" {
		dbConfig, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			logger.Warnf("数据库配置管理不可用: %v", err)
		} else {
			server.AttachConfigManager(api.NewConfigManager(dbConfig, logger))
		}
	}

	// 启动服务器
	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("启动服务器失败: %v", err)
		}
	}()

	logger.Infof("API服务器已启动，监听端口: %d", *port)

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("正在关闭服务器...")
	if err := server.Stop(); err != nil {
		logger.Errorf("关闭服务器失败: %v", err)
	}

	logger.Info("服务器已关闭")
}
