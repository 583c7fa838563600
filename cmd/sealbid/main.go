package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sealbid/internal/api"
	"sealbid/internal/config"
	"sealbid/internal/events"
	"sealbid/internal/factory"
	"sealbid/internal/logging"
	"sealbid/internal/shutdown"
	"sealbid/internal/token"
)

var (
	// 基础参数
	configFile string
	dbPath     string
	outputPath string
	format     string
	port       int

	// 高级参数
	verbose         bool
	shutdownTimeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sealbid",
		Short: "密封出价拍卖协调服务",
		Long:  `两方密封出价拍卖的协调服务，工厂负责实例化拍卖、维护目录并中转查看密钥认证`,
		RunE:  run,
	}

	// 基础参数
	rootCmd.Flags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "注册表数据库路径，覆盖配置文件")
	rootCmd.Flags().StringVar(&outputPath, "output", "", "事件输出目录，覆盖配置文件")
	rootCmd.Flags().StringVar(&format, "format", "", "事件输出格式 (file/kafka/kafka_async)，覆盖配置文件")
	rootCmd.Flags().IntVar(&port, "port", 0, "API服务端口，覆盖配置文件")

	// 高级参数
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "优雅停机超时时间")

	// 状态查询子命令
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "查看工厂注册表状态",
		RunE:  showStatus,
	}

	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// 设置日志级别
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	applyOverrides(cfg)

	// 结构化日志用于服务生命周期记录
	slogger, err := logging.NewStructuredLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("创建结构化日志器失败: %w", err)
	}
	opLog := logging.NewFactoryLogger(slogger, "serve")

	// 创建事件发布器
	var brokers []string
	topics := map[string]string{}
	if cfg.Events.Kafka != nil {
		brokers = cfg.Events.Kafka.Brokers
		topics = cfg.Events.Kafka.Topics
	}
	publisher, err := events.NewPublisher(cfg.Events.Format, cfg.Events.Directory, brokers, topics, logger)
	if err != nil {
		return fmt.Errorf("创建事件发布器失败: %w", err)
	}

	// 打开注册表存储
	store, err := factory.NewStore(cfg.Registry.DBPath, logger)
	if err != nil {
		return fmt.Errorf("打开注册表失败: %w", err)
	}

	// 创建代币账本与工厂
	bank := token.NewBank(logger)
	f, err := factory.NewFactory(
		common.HexToAddress(cfg.Factory.Address),
		common.HexToAddress(cfg.Factory.Admin),
		cfg.Factory.Entropy,
		store, bank, publisher, logger,
	)
	if err != nil {
		return fmt.Errorf("创建工厂失败: %w", err)
	}

	// 创建API服务器
	server := api.NewServer(cfg, f, bank, logger, cfg.API.Port)
	if dsn := os.Getenv("SEALBID_DB_DSN"); dsn != "" {
		dbConfig, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			logger.Warnf("数据库配置管理不可用: %v", err)
		} else {
			server.AttachConfigManager(api.NewConfigManager(dbConfig, logger))
		}
	}

	// 优雅停机：先停外部入口，再刷发布器，最后落盘
	gs := shutdown.NewGracefulShutdown(shutdownTimeout, logger)
	gs.RegisterShutdownFunc("api_server", func(ctx context.Context) error {
		return server.Stop()
	}, shutdown.OrderStopAcceptingRequests)
	gs.RegisterShutdownFunc("event_publisher", func(ctx context.Context) error {
		return publisher.Close()
	}, shutdown.OrderFlushProducers)
	gs.RegisterShutdownFunc("factory_store", func(ctx context.Context) error {
		return f.Close()
	}, shutdown.OrderSaveState)

	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("API服务器退出: %v", err)
			gs.Shutdown()
		}
	}()

	opLog.Info("工厂服务已就绪",
		"factory", cfg.Factory.Address,
		"admin", cfg.Factory.Admin,
		"port", cfg.API.Port,
		"events_format", cfg.Events.Format,
	)

	gs.WaitForShutdown()
	opLog.Info("工厂服务已退出")
	return nil
}

// applyOverrides 命令行参数覆盖配置文件
func applyOverrides(cfg *config.Config) {
	if dbPath != "" {
		cfg.Registry.DBPath = dbPath
	}
	if outputPath != "" {
		cfg.Events.Directory = outputPath
	}
	if format != "" {
		cfg.Events.Format = format
	}
	if port != 0 {
		cfg.API.Port = port
	}
}

// showStatus 显示工厂注册表状态
func showStatus(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	applyOverrides(cfg)

	store, err := factory.NewStore(cfg.Registry.DBPath, logger)
	if err != nil {
		return fmt.Errorf("打开注册表失败: %w", err)
	}
	defer store.Close()

	active, err := store.ListActive()
	if err != nil {
		return fmt.Errorf("读取活跃列表失败: %w", err)
	}
	all, err := store.ListAll()
	if err != nil {
		return fmt.Errorf("读取拍卖目录失败: %w", err)
	}

	fmt.Println("📊 工厂注册表状态")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("%-20s: %s\n", "数据库", store.GetDBPath())
	fmt.Printf("%-20s: %s\n", "管理员", store.Admin().Hex())
	fmt.Printf("%-20s: %t\n", "已停止", store.IsStopped())
	fmt.Printf("%-20s: %d\n", "拍卖总数", len(all))
	fmt.Printf("%-20s: %d\n", "活跃拍卖", len(active))
	fmt.Printf("%-20s: %d\n", "已关闭拍卖", len(all)-len(active))

	if version, err := store.CurrentVersion(); err == nil && version != nil {
		fmt.Printf("%-20s: code_id=%d code_hash=%s\n", "当前合约版本", version.CodeID, version.CodeHash)
	}

	return nil
}
