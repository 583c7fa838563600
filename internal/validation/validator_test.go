package validation

import (
	"strings"
	"testing"

	"sealbid/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func validCreateRequest() *models.CreateAuctionRequest {
	return &models.CreateAuctionRequest{
		Label: "SCRT-USDT 场次 1",
		SellContract: models.ContractInfo{
			Address:  common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678"),
			CodeHash: "f00d",
		},
		BidContract: models.ContractInfo{
			Address:  common.HexToAddress("0xabcdef1234567890abcdef1234567890abcdef12"),
			CodeHash: "beef",
		},
		SellSymbol:   "SCRT",
		BidSymbol:    "USDT",
		SellDecimals: 6,
		BidDecimals:  6,
		SellAmount:   1000,
		MinimumBid:   10,
		EndsAt:       1700000000,
	}
}

func TestNewValidator(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, true)

	assert.NotNil(t, validator)
	assert.True(t, validator.strictMode)
	assert.NotNil(t, validator.rules)
	assert.Equal(t, 3, len(validator.rules)) // 默认注册的规则数量
}

func TestValidateCreateAuction_Valid(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	result := validator.ValidateCreateAuction(validCreateRequest())

	assert.NotNil(t, result)
	assert.True(t, result.Valid)
	assert.Equal(t, "create_auction", result.DataType)
	assert.Empty(t, result.Errors)
}

func TestValidateCreateAuction_ZeroAmount(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	req := validCreateRequest()
	req.SellAmount = 0

	result := validator.ValidateCreateAuction(req)

	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
	assert.Equal(t, "ZERO_AMOUNT", result.Errors[0].Code)
}

func TestValidateCreateAuction_SameTokenPair(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	req := validCreateRequest()
	req.BidContract = req.SellContract

	result := validator.ValidateCreateAuction(req)

	assert.False(t, result.Valid)
	found := false
	for _, e := range result.Errors {
		if e.Code == "SAME_TOKEN_PAIR" {
			found = true
		}
	}
	assert.True(t, found, "应该包含SAME_TOKEN_PAIR错误")
}

func TestValidateCreateAuction_ZeroContractAddress(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	req := validCreateRequest()
	req.SellContract.Address = common.Address{}

	result := validator.ValidateCreateAuction(req)

	assert.False(t, result.Valid)
	codes := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, "INVALID_SELL_CONTRACT")
}

func TestValidateCreateAuction_EmptyLabel(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	req := validCreateRequest()
	req.Label = ""

	result := validator.ValidateCreateAuction(req)

	assert.False(t, result.Valid)
	codes := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, "EMPTY_LABEL")
}

func TestValidateCreateAuction_LabelTooLong(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	req := validCreateRequest()
	req.Label = strings.Repeat("长", MaxLabelLength+1)

	result := validator.ValidateCreateAuction(req)

	assert.False(t, result.Valid)
	codes := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, "LABEL_TOO_LONG")
}

func TestValidateCreateAuction_MissingSymbols(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	req := validCreateRequest()
	req.BidSymbol = ""

	result := validator.ValidateCreateAuction(req)

	assert.False(t, result.Valid)
	codes := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, "MISSING_TOKEN_SYMBOL")
}

func TestValidateCreateAuction_Warnings(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	req := validCreateRequest()
	req.EndsAt = 0
	req.MinimumBid = 0

	result := validator.ValidateCreateAuction(req)

	// 零结束时刻和零最低价合法，但应产生提示
	assert.True(t, result.Valid)
	assert.Len(t, result.Warnings, 2)
}

func TestValidateCreateAuction_NilRequest(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	result := validator.ValidateCreateAuction(nil)

	assert.NotNil(t, result)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
	assert.Equal(t, "create_auction", result.DataType)
}

func TestValidateFinalize(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	// 空请求合法
	result := validator.ValidateFinalize(nil)
	assert.True(t, result.Valid)

	// 负的新结束时刻不合法
	negative := int64(-1)
	result = validator.ValidateFinalize(&models.FinalizeRequest{
		OnlyIfBids: true,
		NewEndsAt:  &negative,
	})
	assert.False(t, result.Valid)
	assert.Equal(t, "INVALID_NEW_ENDS_AT", result.Errors[0].Code)

	// 未设置 only_if_bids 时新参数无效，提示
	newMin := uint64(50)
	result = validator.ValidateFinalize(&models.FinalizeRequest{
		OnlyIfBids:    false,
		NewMinimumBid: &newMin,
	})
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Warnings)
}

func TestValidateAddress(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	result := validator.ValidateAddress("0x1234567890abcdef1234567890abcdef12345678")
	assert.True(t, result.Valid)

	result = validator.ValidateAddress("not_an_address")
	assert.False(t, result.Valid)
	assert.Equal(t, "INVALID_ADDRESS_FORMAT", result.Errors[0].Code)
}

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		expected bool
	}{
		{
			name:     "valid address",
			address:  "0x1234567890abcdef1234567890abcdef12345678",
			expected: true,
		},
		{
			name:     "valid address - uppercase",
			address:  "0x1234567890ABCDEF1234567890ABCDEF12345678",
			expected: true,
		},
		{
			name:     "empty address",
			address:  "",
			expected: false,
		},
		{
			name:     "invalid address - no 0x prefix",
			address:  "1234567890abcdef1234567890abcdef12345678",
			expected: false,
		},
		{
			name:     "invalid address - too short",
			address:  "0x123456",
			expected: false,
		},
		{
			name:     "invalid address - too long",
			address:  "0x1234567890abcdef1234567890abcdef1234567890",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isValidAddress(tt.address)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLabelValidationRule(t *testing.T) {
	rule := NewLabelValidationRule()

	assert.Equal(t, "label", rule.Name())
	assert.Equal(t, "拍卖标签验证规则", rule.Description())

	assert.NoError(t, rule.Validate("正常标签"))
	assert.Error(t, rule.Validate(""))
	assert.Error(t, rule.Validate(strings.Repeat("x", MaxLabelLength+1)))

	// 测试错误的数据类型
	assert.Error(t, rule.Validate(42))
}

func TestCreateAuctionValidationRule(t *testing.T) {
	rule := NewCreateAuctionValidationRule()

	assert.Equal(t, "create_auction", rule.Name())
	assert.Equal(t, "创建拍卖请求验证规则", rule.Description())

	assert.NoError(t, rule.Validate(validCreateRequest()))

	noSymbol := validCreateRequest()
	noSymbol.SellSymbol = ""
	assert.Error(t, rule.Validate(noSymbol))

	assert.Error(t, rule.Validate("not a request"))
}

func TestValidatorStrictMode(t *testing.T) {
	logger := logrus.New()

	strictValidator := NewValidator(logger, true)
	assert.True(t, strictValidator.strictMode)

	lenientValidator := NewValidator(logger, false)
	assert.False(t, lenientValidator.strictMode)

	lenientValidator.SetStrictMode(true)
	assert.True(t, lenientValidator.strictMode)
}

func TestGetValidationStats(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, true)

	stats := validator.GetValidationStats()

	assert.NotNil(t, stats)
	assert.Contains(t, stats, "strict_mode")
	assert.Contains(t, stats, "registered_rules")
	assert.Contains(t, stats, "error_stats")

	assert.Equal(t, true, stats["strict_mode"])
	assert.Equal(t, 3, stats["registered_rules"]) // 默认规则数量
}

// 基准测试
func BenchmarkValidateCreateAuction(b *testing.B) {
	logger := logrus.New()
	validator := NewValidator(logger, false)
	req := validCreateRequest()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		validator.ValidateCreateAuction(req)
	}
}
