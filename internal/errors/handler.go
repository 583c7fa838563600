package errors

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	// 错误处理策略
	strategies map[ErrorKind]ErrorStrategy

	// 错误回调
	callbacks []ErrorCallback

	// 阈值设置
	thresholds map[ErrorSeverity]ThresholdConfig
}

// ErrorStrategy 错误处理策略
type ErrorStrategy interface {
	Handle(ctx context.Context, err *AuctionError) error
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *AuctionError)

// ThresholdConfig 阈值配置
type ThresholdConfig struct {
	MaxErrorsPerHour     int           `json:"max_errors_per_hour"`
	MaxConsecutiveErrors int           `json:"max_consecutive_errors"`
	CooldownPeriod       time.Duration `json:"cooldown_period"`
}

// LoggingStrategy 日志记录策略
type LoggingStrategy struct {
	logger *logrus.Logger
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	eh := &ErrorHandler{
		logger:     logger,
		stats:      NewErrorStats(),
		strategies: make(map[ErrorKind]ErrorStrategy),
		callbacks:  make([]ErrorCallback, 0),
		thresholds: make(map[ErrorSeverity]ThresholdConfig),
	}

	// 设置默认策略
	eh.setupDefaultStrategies()

	// 设置默认阈值
	eh.setupDefaultThresholds()

	return eh
}

// setupDefaultStrategies 设置默认处理策略
// 合约语义错误没有重试策略，统一记录日志
func (eh *ErrorHandler) setupDefaultStrategies() {
	loggingStrategy := &LoggingStrategy{logger: eh.logger}
	for kind := range errorKindNames {
		eh.strategies[kind] = loggingStrategy
	}
}

// setupDefaultThresholds 设置默认阈值
func (eh *ErrorHandler) setupDefaultThresholds() {
	eh.thresholds[SeverityLow] = ThresholdConfig{
		MaxErrorsPerHour:     100,
		MaxConsecutiveErrors: 20,
		CooldownPeriod:       5 * time.Minute,
	}

	eh.thresholds[SeverityMedium] = ThresholdConfig{
		MaxErrorsPerHour:     50,
		MaxConsecutiveErrors: 10,
		CooldownPeriod:       10 * time.Minute,
	}

	eh.thresholds[SeverityHigh] = ThresholdConfig{
		MaxErrorsPerHour:     20,
		MaxConsecutiveErrors: 5,
		CooldownPeriod:       30 * time.Minute,
	}

	eh.thresholds[SeverityCritical] = ThresholdConfig{
		MaxErrorsPerHour:     5,
		MaxConsecutiveErrors: 2,
		CooldownPeriod:       time.Hour,
	}
}

// HandleError 处理错误
func (eh *ErrorHandler) HandleError(ctx context.Context, err error) error {
	var auctionErr *AuctionError

	// 转换为AuctionError
	if ae, ok := err.(*AuctionError); ok {
		auctionErr = ae
	} else {
		// 包装普通错误
		auctionErr = WrapError(err, KindSystem, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
	}

	// 记录错误统计
	eh.recordError(auctionErr)

	// 检查阈值
	if eh.checkThresholds(auctionErr) {
		eh.logger.Warnf("错误达到阈值限制: %s", auctionErr.Error())
	}

	// 执行回调
	eh.executeCallbacks(auctionErr)

	// 执行处理策略
	return eh.executeStrategy(ctx, auctionErr)
}

// recordError 记录错误
func (eh *ErrorHandler) recordError(err *AuctionError) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats.RecordError(err)
}

// checkThresholds 检查阈值
func (eh *ErrorHandler) checkThresholds(err *AuctionError) bool {
	threshold, exists := eh.thresholds[err.Severity]
	if !exists {
		return false
	}

	// 检查每小时错误数
	hourlyRate := eh.stats.GetErrorRate(time.Hour)
	if hourlyRate > float64(threshold.MaxErrorsPerHour) {
		eh.logger.Warnf("每小时错误数超过阈值: %.2f > %d", hourlyRate, threshold.MaxErrorsPerHour)
		return true
	}

	return false
}

// executeCallbacks 执行错误回调
func (eh *ErrorHandler) executeCallbacks(err *AuctionError) {
	eh.mu.RLock()
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.RUnlock()

	for _, callback := range callbacks {
		go func(cb ErrorCallback) {
			defer func() {
				if r := recover(); r != nil {
					eh.logger.Errorf("错误回调执行时发生panic: %v", r)
				}
			}()
			cb(err)
		}(callback)
	}
}

// executeStrategy 执行处理策略
func (eh *ErrorHandler) executeStrategy(ctx context.Context, err *AuctionError) error {
	strategy, exists := eh.strategies[err.Kind]
	if !exists {
		// 使用默认日志策略
		strategy = &LoggingStrategy{logger: eh.logger}
	}

	return strategy.Handle(ctx, err)
}

// Handle 实现LoggingStrategy的处理方法
func (ls *LoggingStrategy) Handle(ctx context.Context, err *AuctionError) error {
	// 根据严重级别选择日志级别
	logEntry := ls.logger.WithFields(logrus.Fields{
		"error_kind": err.Kind.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
		"index":      err.Index,
		"address":    err.Address,
		"context":    err.Context,
	})

	switch err.Severity {
	case SeverityLow:
		logEntry.Debug(err.Message)
	case SeverityMedium:
		logEntry.Warn(err.Message)
	case SeverityHigh:
		logEntry.Error(err.Message)
	case SeverityCritical:
		logEntry.Fatal(err.Message)
	}

	return err
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// SetStrategy 设置错误处理策略
func (eh *ErrorHandler) SetStrategy(kind ErrorKind, strategy ErrorStrategy) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.strategies[kind] = strategy
}

// GetStats 获取错误统计信息
func (eh *ErrorHandler) GetStats() *ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats
}

// SetThreshold 设置阈值
func (eh *ErrorHandler) SetThreshold(severity ErrorSeverity, config ThresholdConfig) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.thresholds[severity] = config
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}

// AlertStrategy 告警策略
type AlertStrategy struct {
	alertFunc func(err *AuctionError)
	logger    *logrus.Logger
}

// NewAlertStrategy 创建告警策略
func NewAlertStrategy(alertFunc func(err *AuctionError), logger *logrus.Logger) *AlertStrategy {
	return &AlertStrategy{
		alertFunc: alertFunc,
		logger:    logger,
	}
}

// Handle 实现AlertStrategy的处理方法
func (as *AlertStrategy) Handle(ctx context.Context, err *AuctionError) error {
	// 执行告警
	go func() {
		defer func() {
			if r := recover(); r != nil {
				as.logger.Errorf("告警函数执行时发生panic: %v", r)
			}
		}()
		as.alertFunc(err)
	}()

	return err
}
