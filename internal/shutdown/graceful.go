package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序：先停外部入口，再刷事件缓冲，最后落盘
const (
	OrderStopAcceptingRequests = 10 // 停止接受新请求
	OrderFlushProducers        = 20 // 刷新事件生产者缓冲区
	OrderSaveState             = 30 // 关闭注册表并保存状态
	OrderCleanupResources      = 40 // 清理其余资源
)

// ShutdownFunc 停机处理函数
type ShutdownFunc struct {
	Name  string
	Func  func(ctx context.Context) error
	Order int // 数字越小越早执行
}

// GracefulShutdown 优雅停机管理器
type GracefulShutdown struct {
	logger         *logrus.Logger
	timeout        time.Duration
	shutdownFuncs  []ShutdownFunc
	mu             sync.Mutex
	signalChan     chan os.Signal
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	isShuttingDown bool
}

// NewGracefulShutdown 创建优雅停机管理器
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	gs := &GracefulShutdown{
		logger:        logger,
		timeout:       timeout,
		shutdownFuncs: make([]ShutdownFunc, 0),
		signalChan:    make(chan os.Signal, 1),
		ctx:           ctx,
		cancel:        cancel,
	}

	signal.Notify(gs.signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	return gs
}

// RegisterShutdownFunc 注册停机处理函数
func (gs *GracefulShutdown) RegisterShutdownFunc(name string, fn func(ctx context.Context) error, order int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.shutdownFuncs = append(gs.shutdownFuncs, ShutdownFunc{
		Name:  name,
		Func:  fn,
		Order: order,
	})

	gs.logger.WithFields(logrus.Fields{
		"name":  name,
		"order": order,
	}).Debug("注册停机处理函数")
}

// Start 启动信号监听
func (gs *GracefulShutdown) Start() {
	gs.wg.Add(1)
	go gs.signalHandler()
	gs.logger.Info("优雅停机管理器已启动，监听信号: SIGINT, SIGTERM, SIGQUIT")
}

// Wait 等待停机完成
func (gs *GracefulShutdown) Wait() {
	gs.wg.Wait()
}

// WaitForShutdown 等待停机信号并执行停机
func (gs *GracefulShutdown) WaitForShutdown() {
	gs.Start()
	gs.Wait()
}

// Context 获取主上下文，停机完成时取消
func (gs *GracefulShutdown) Context() context.Context {
	return gs.ctx
}

// Shutdown 手动触发停机
func (gs *GracefulShutdown) Shutdown() {
	if !gs.markShuttingDown() {
		return
	}
	gs.logger.Info("手动触发优雅停机...")
	gs.performShutdown()
}

// markShuttingDown 标记进入停机过程，重复触发返回false
func (gs *GracefulShutdown) markShuttingDown() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.isShuttingDown {
		return false
	}
	gs.isShuttingDown = true
	return true
}

// signalHandler 信号处理器
func (gs *GracefulShutdown) signalHandler() {
	defer gs.wg.Done()

	sig := <-gs.signalChan
	gs.logger.Infof("收到停机信号: %v", sig)

	if !gs.markShuttingDown() {
		gs.logger.Warn("停机过程已在进行中，忽略信号")
		return
	}

	gs.performShutdown()
}

// performShutdown 按注册顺序执行所有停机函数
func (gs *GracefulShutdown) performShutdown() {
	started := time.Now()
	gs.logger.Info("开始优雅停机流程...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gs.timeout)
	defer shutdownCancel()

	gs.mu.Lock()
	funcs := make([]ShutdownFunc, len(gs.shutdownFuncs))
	copy(funcs, gs.shutdownFuncs)
	gs.mu.Unlock()

	sort.SliceStable(funcs, func(i, j int) bool {
		return funcs[i].Order < funcs[j].Order
	})

	var shutdownErrors []error
	for _, fn := range funcs {
		select {
		case <-shutdownCtx.Done():
			gs.logger.Warnf("停机超时，跳过剩余步骤（从 %s 起）", fn.Name)
			gs.cancel()
			return
		default:
		}

		stepStart := time.Now()
		err := fn.Func(shutdownCtx)
		duration := time.Since(stepStart)

		if err != nil {
			gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", fn.Name, duration, err)
			shutdownErrors = append(shutdownErrors, fmt.Errorf("%s: %w", fn.Name, err))
		} else {
			gs.logger.Infof("停机处理 '%s' 完成 (耗时: %v)", fn.Name, duration)
		}
	}

	gs.cancel()

	if len(shutdownErrors) > 0 {
		gs.logger.Errorf("停机过程中发生 %d 个错误", len(shutdownErrors))
		for _, err := range shutdownErrors {
			gs.logger.Error(err)
		}
	}

	gs.logger.Infof("优雅停机流程完成 (总耗时: %v)", time.Since(started))
}

// IsShuttingDown 检查是否正在停机
func (gs *GracefulShutdown) IsShuttingDown() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.isShuttingDown
}

// Close 关闭优雅停机管理器
func (gs *GracefulShutdown) Close() error {
	signal.Stop(gs.signalChan)
	close(gs.signalChan)

	if !gs.IsShuttingDown() {
		gs.Shutdown()
	}

	return nil
}
