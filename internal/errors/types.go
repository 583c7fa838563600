package errors

import (
	"fmt"
	"time"
)

// ErrorKind 错误类别
type ErrorKind int

const (
	// 授权与状态机错误
	KindUnauthorized ErrorKind = iota
	KindAlreadyClosed
	KindStopped

	// 出价相关错误
	KindBelowMinimumBid
	KindZeroAmount

	// 拍卖创建错误
	KindSameTokenPair
	KindInsufficientAllowanceOrBalance

	// 查询认证错误
	KindAuthenticationFailed

	// 系统相关错误
	KindStorage
	KindConfig
	KindKafka
	KindSystem
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// AuctionError 自定义错误类型
type AuctionError struct {
	Kind      ErrorKind              `json:"kind"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
	Index     *uint64                `json:"index,omitempty"`
	Address   *string                `json:"address,omitempty"`
}

// Error 实现error接口
func (e *AuctionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *AuctionError) Unwrap() error {
	return e.Cause
}

// Is 支持errors.Is按类别与代码匹配预定义错误
func (e *AuctionError) Is(target error) bool {
	if t, ok := target.(*AuctionError); ok {
		return e.Kind == t.Kind && e.Code == t.Code
	}
	return false
}

// IsRetryable 判断是否可重试
func (e *AuctionError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *AuctionError) WithContext(key string, value interface{}) *AuctionError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithIndex 添加拍卖索引
func (e *AuctionError) WithIndex(index uint64) *AuctionError {
	clone := *e
	clone.Index = &index
	return &clone
}

// WithAddress 添加相关地址
func (e *AuctionError) WithAddress(address string) *AuctionError {
	clone := *e
	clone.Address = &address
	return &clone
}

// NewAuctionError 创建新的错误
func NewAuctionError(kind ErrorKind, severity ErrorSeverity, code, message string) *AuctionError {
	return &AuctionError{
		Kind:      kind,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(kind),
	}
}

// WrapError 包装现有错误
func WrapError(err error, kind ErrorKind, severity ErrorSeverity, code, message string) *AuctionError {
	return &AuctionError{
		Kind:      kind,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(kind),
	}
}

// determineRetryable 根据错误类别判断是否可重试
// 合约语义错误永远不重试，资金恢复只能通过显式的 return_all/retract_bid
func determineRetryable(kind ErrorKind) bool {
	switch kind {
	case KindStorage, KindKafka:
		return true
	default:
		return false
	}
}

// 预定义错误
var (
	// 授权错误
	ErrUnauthorized = NewAuctionError(
		KindUnauthorized,
		SeverityMedium,
		"UNAUTHORIZED",
		"调用者无权执行该特权操作",
	)

	ErrAlreadyClosed = NewAuctionError(
		KindAlreadyClosed,
		SeverityLow,
		"ALREADY_CLOSED",
		"拍卖已关闭",
	)

	ErrStopped = NewAuctionError(
		KindStopped,
		SeverityMedium,
		"FACTORY_STOPPED",
		"工厂已停止接受新拍卖",
	)

	// 出价错误
	ErrBelowMinimumBid = NewAuctionError(
		KindBelowMinimumBid,
		SeverityLow,
		"BELOW_MINIMUM_BID",
		"出价低于最低限额",
	)

	ErrZeroAmount = NewAuctionError(
		KindZeroAmount,
		SeverityLow,
		"ZERO_AMOUNT",
		"金额必须大于0",
	)

	// 创建错误
	ErrSameTokenPair = NewAuctionError(
		KindSameTokenPair,
		SeverityMedium,
		"SAME_TOKEN_PAIR",
		"出售代币与出价代币必须不同",
	)

	ErrInsufficientAllowanceOrBalance = NewAuctionError(
		KindInsufficientAllowanceOrBalance,
		SeverityMedium,
		"INSUFFICIENT_ALLOWANCE_OR_BALANCE",
		"卖家余额或授权额度不足",
	)

	// 认证错误，不区分"未设置密钥"与"密钥错误"
	ErrAuthenticationFailed = NewAuctionError(
		KindAuthenticationFailed,
		SeverityLow,
		"AUTHENTICATION_FAILED",
		"该地址的查看密钥错误或未设置",
	)

	// 系统错误
	ErrStorageFailed = NewAuctionError(
		KindStorage,
		SeverityHigh,
		"STORAGE_FAILED",
		"注册表存储操作失败",
	)

	ErrConfigInvalid = NewAuctionError(
		KindConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	ErrKafkaPublishFailed = NewAuctionError(
		KindKafka,
		SeverityHigh,
		"KAFKA_PUBLISH_FAILED",
		"通知事件发送失败",
	)
)

// 错误类别字符串映射
var errorKindNames = map[ErrorKind]string{
	KindUnauthorized:                   "Unauthorized",
	KindAlreadyClosed:                  "AlreadyClosed",
	KindStopped:                        "Stopped",
	KindBelowMinimumBid:                "BelowMinimumBid",
	KindZeroAmount:                     "ZeroAmount",
	KindSameTokenPair:                  "SameTokenPair",
	KindInsufficientAllowanceOrBalance: "InsufficientAllowanceOrBalance",
	KindAuthenticationFailed:           "AuthenticationFailed",
	KindStorage:                        "Storage",
	KindConfig:                         "Config",
	KindKafka:                          "Kafka",
	KindSystem:                         "System",
}

// String 返回错误类别的字符串表示
func (ek ErrorKind) String() string {
	if name, exists := errorKindNames[ek]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", ek)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByKind      map[ErrorKind]int     `json:"errors_by_kind"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*AuctionError       `json:"recent_errors"`
	LastError         *AuctionError         `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByKind:      make(map[ErrorKind]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*AuctionError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *AuctionError) {
	es.TotalErrors++
	es.ErrorsByKind[err.Kind]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0

	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	hours := duration.Hours()
	if hours == 0 {
		return float64(recentCount)
	}

	return float64(recentCount) / hours
}
