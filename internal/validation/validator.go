package validation

import (
	"fmt"
	"strings"

	"sealbid/internal/errors"
	"sealbid/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// MaxLabelLength 拍卖标签最大长度
const MaxLabelLength = 256

// Validator 消息验证器
type Validator struct {
	logger       *logrus.Logger
	strictMode   bool // 严格模式
	errorHandler *errors.ErrorHandler
	rules        map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                   `json:"valid"`
	Errors   []*errors.AuctionError `json:"errors,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
	DataType string                 `json:"data_type"`
}

// NewValidator 创建消息验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:       logger,
		strictMode:   strictMode,
		errorHandler: errors.NewErrorHandler(logger),
		rules:        make(map[string]ValidationRule),
	}

	// 注册默认验证规则
	v.registerDefaultRules()

	return v
}

// registerDefaultRules 注册默认验证规则
func (v *Validator) registerDefaultRules() {
	// 创建拍卖验证规则
	v.AddRule(NewCreateAuctionValidationRule())

	// 标签验证规则
	v.AddRule(NewLabelValidationRule())

	// 地址验证规则
	v.AddRule(NewAddressValidationRule())
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// ValidateCreateAuction 验证创建拍卖请求
func (v *Validator) ValidateCreateAuction(req *models.CreateAuctionRequest) *ValidationResult {
	if req == nil {
		return &ValidationResult{
			Valid: false,
			Errors: []*errors.AuctionError{
				errors.NewAuctionError(errors.KindConfig, errors.SeverityMedium,
					"EMPTY_REQUEST", "请求为空"),
			},
			DataType: "create_auction",
		}
	}

	result := &ValidationResult{
		Valid:    true,
		DataType: "create_auction",
		Errors:   make([]*errors.AuctionError, 0),
		Warnings: make([]string, 0),
	}

	// 寄售数额必须为正
	if req.SellAmount == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, errors.ErrZeroAmount)
	}

	// 寄售代币与出价代币必须不同
	if req.SellContract.Address == req.BidContract.Address {
		result.Valid = false
		result.Errors = append(result.Errors, errors.ErrSameTokenPair)
	}

	// 代币合约地址不能为零地址
	if req.SellContract.Address == (common.Address{}) {
		result.Valid = false
		result.Errors = append(result.Errors,
			errors.NewAuctionError(errors.KindConfig, errors.SeverityHigh,
				"INVALID_SELL_CONTRACT", "寄售代币合约地址无效"))
	}
	if req.BidContract.Address == (common.Address{}) {
		result.Valid = false
		result.Errors = append(result.Errors,
			errors.NewAuctionError(errors.KindConfig, errors.SeverityHigh,
				"INVALID_BID_CONTRACT", "出价代币合约地址无效"))
	}

	// 标签检查
	if err := v.runRule("label", req.Label, result); err != nil {
		result.Valid = false
	}

	// 结束时刻为零时任何时刻都可关闭，提示而不拒绝
	if req.EndsAt == 0 {
		result.Warnings = append(result.Warnings, "未设置结束时刻，创建后立即可被任何人关闭")
	}

	// 最低价为零等于不设门槛
	if req.MinimumBid == 0 {
		result.Warnings = append(result.Warnings, "最低出价为零，任何正数出价都会被接受")
	}

	// 执行扩展验证规则
	if err := v.runRule("create_auction", req, result); err != nil {
		result.Valid = false
	}

	return result
}

// ValidateFinalize 验证关闭请求
func (v *Validator) ValidateFinalize(req *models.FinalizeRequest) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		DataType: "finalize",
		Errors:   make([]*errors.AuctionError, 0),
		Warnings: make([]string, 0),
	}
	if req == nil {
		return result
	}

	if req.NewEndsAt != nil && *req.NewEndsAt < 0 {
		result.Valid = false
		result.Errors = append(result.Errors,
			errors.NewAuctionError(errors.KindConfig, errors.SeverityMedium,
				"INVALID_NEW_ENDS_AT", "新结束时刻不能为负数"))
	}
	if !req.OnlyIfBids && (req.NewEndsAt != nil || req.NewMinimumBid != nil) {
		result.Warnings = append(result.Warnings,
			"未设置 only_if_bids 时新结束时刻和新最低价不会生效")
	}

	return result
}

// ValidateAddress 验证地址字符串
func (v *Validator) ValidateAddress(addr string) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		DataType: "address",
		Errors:   make([]*errors.AuctionError, 0),
	}
	if err := v.runRule("address", addr, result); err != nil {
		result.Valid = false
	}
	return result
}

// runRule 执行命名规则并把错误并入结果
func (v *Validator) runRule(name string, data interface{}, result *ValidationResult) error {
	rule, exists := v.rules[name]
	if !exists {
		return nil
	}
	err := rule.Validate(data)
	if err == nil {
		return nil
	}
	if auctionErr, ok := err.(*errors.AuctionError); ok {
		result.Errors = append(result.Errors, auctionErr)
	} else {
		result.Errors = append(result.Errors, errors.WrapError(err,
			errors.KindConfig, errors.SeverityMedium,
			"RULE_VALIDATION_FAILED", fmt.Sprintf("%s 规则验证失败", name)))
	}
	return err
}

// isValidAddress 验证地址格式
func isValidAddress(addr string) bool {
	if addr == "" {
		return false
	}
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	return common.IsHexAddress(addr)
}

// CreateAuctionValidationRule 创建拍卖验证规则
type CreateAuctionValidationRule struct{}

func NewCreateAuctionValidationRule() *CreateAuctionValidationRule {
	return &CreateAuctionValidationRule{}
}

func (r *CreateAuctionValidationRule) Name() string {
	return "create_auction"
}

func (r *CreateAuctionValidationRule) Description() string {
	return "创建拍卖请求验证规则"
}

func (r *CreateAuctionValidationRule) Validate(data interface{}) error {
	req, ok := data.(*models.CreateAuctionRequest)
	if !ok {
		return fmt.Errorf("数据类型不是创建拍卖请求")
	}

	// 符号用于交易对分组，不能为空
	if req.SellSymbol == "" || req.BidSymbol == "" {
		return errors.NewAuctionError(errors.KindConfig, errors.SeverityMedium,
			"MISSING_TOKEN_SYMBOL", "代币符号不能为空")
	}

	return nil
}

// LabelValidationRule 标签验证规则
type LabelValidationRule struct{}

func NewLabelValidationRule() *LabelValidationRule {
	return &LabelValidationRule{}
}

func (r *LabelValidationRule) Name() string {
	return "label"
}

func (r *LabelValidationRule) Description() string {
	return "拍卖标签验证规则"
}

func (r *LabelValidationRule) Validate(data interface{}) error {
	label, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if label == "" {
		return errors.NewAuctionError(errors.KindConfig, errors.SeverityMedium,
			"EMPTY_LABEL", "拍卖标签不能为空")
	}
	if len(label) > MaxLabelLength {
		return errors.NewAuctionError(errors.KindConfig, errors.SeverityMedium,
			"LABEL_TOO_LONG", "拍卖标签过长")
	}

	return nil
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct{}

func NewAddressValidationRule() *AddressValidationRule {
	return &AddressValidationRule{}
}

func (r *AddressValidationRule) Name() string {
	return "address"
}

func (r *AddressValidationRule) Description() string {
	return "地址格式验证规则"
}

func (r *AddressValidationRule) Validate(data interface{}) error {
	addr, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !isValidAddress(addr) {
		return errors.NewAuctionError(errors.KindConfig, errors.SeverityHigh,
			"INVALID_ADDRESS_FORMAT", "地址格式无效")
	}

	return nil
}

// GetValidationStats 获取验证统计信息
func (v *Validator) GetValidationStats() map[string]interface{} {
	return map[string]interface{}{
		"strict_mode":      v.strictMode,
		"registered_rules": len(v.rules),
		"error_stats":      v.errorHandler.GetStats(),
	}
}

// SetStrictMode 设置严格模式
func (v *Validator) SetStrictMode(strict bool) {
	v.strictMode = strict
	v.logger.Infof("验证器严格模式设置为: %t", strict)
}
