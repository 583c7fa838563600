package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDefaultConfig(t *testing.T) {
	config := GetDefaultConfig()

	assert.NotNil(t, config)
	assert.NotNil(t, config.Factory)
	assert.NotNil(t, config.Registry)
	assert.NotNil(t, config.Events)
	assert.NotNil(t, config.API)
	assert.NotNil(t, config.Logging)

	// 测试工厂配置
	assert.Equal(t, "", config.Factory.Admin) // 需要在YAML或数据库中配置
	assert.Equal(t, "sealbid_factory", config.Factory.Entropy)
	assert.Equal(t, 200, config.Factory.ClosedPageSize)

	// 测试注册表配置
	assert.Equal(t, "./data/factory.db", config.Registry.DBPath)

	// 测试事件配置
	assert.Equal(t, "kafka_async", config.Events.Format)
	assert.Equal(t, "./outputs", config.Events.Directory)
	assert.NotNil(t, config.Events.Kafka)
	assert.Equal(t, []string{"localhost:9092"}, config.Events.Kafka.Brokers)
	assert.NotEmpty(t, config.Events.Kafka.Topics)

	// 测试API配置
	assert.Equal(t, 8080, config.API.Port)

	// 测试日志配置
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "stdout", config.Logging.Output)
}

func TestFactoryConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config *FactoryConfig
		valid  bool
	}{
		{
			name: "valid factory config",
			config: &FactoryConfig{
				Address:        "0x00000000000000000000000000000000fac70127",
				Admin:          "0x00000000000000000000000000000000000ad111",
				Entropy:        "熵",
				ClosedPageSize: 200,
			},
			valid: true,
		},
		{
			name: "empty address",
			config: &FactoryConfig{
				Address:        "",
				Admin:          "0x00000000000000000000000000000000000ad111",
				Entropy:        "熵",
				ClosedPageSize: 200,
			},
			valid: false,
		},
		{
			name: "invalid page size",
			config: &FactoryConfig{
				Address:        "0x00000000000000000000000000000000fac70127",
				Admin:          "0x00000000000000000000000000000000000ad111",
				Entropy:        "熵",
				ClosedPageSize: -1,
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid := validateFactoryConfig(tt.config)
			assert.Equal(t, tt.valid, valid)
		})
	}
}

func TestKafkaConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config *KafkaConfig
		valid  bool
	}{
		{
			name: "valid kafka config",
			config: &KafkaConfig{
				Brokers: []string{"localhost:9092", "localhost:9093"},
				Topics: map[string]string{
					"auction_registered": "auction_registered_events",
					"auction_closed":     "auction_closed_events",
				},
			},
			valid: true,
		},
		{
			name: "empty brokers",
			config: &KafkaConfig{
				Brokers: []string{},
				Topics: map[string]string{
					"auction_closed": "auction_closed_events",
				},
			},
			valid: false,
		},
		{
			name: "empty topics",
			config: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics:  map[string]string{},
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid := validateKafkaConfig(tt.config)
			assert.Equal(t, tt.valid, valid)
		})
	}
}

func TestEventsConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config *EventsConfig
		valid  bool
	}{
		{
			name: "valid file events config",
			config: &EventsConfig{
				Format:    "file",
				Directory: "./outputs",
			},
			valid: true,
		},
		{
			name: "valid kafka events config",
			config: &EventsConfig{
				Format:    "kafka",
				Directory: "./outputs",
				Kafka: &KafkaConfig{
					Brokers: []string{"localhost:9092"},
					Topics: map[string]string{
						"auction_closed": "auction_closed_events",
					},
				},
			},
			valid: true,
		},
		{
			name: "invalid format",
			config: &EventsConfig{
				Format:    "invalid",
				Directory: "./outputs",
			},
			valid: false,
		},
		{
			name: "kafka format without kafka config",
			config: &EventsConfig{
				Format:    "kafka",
				Directory: "./outputs",
				Kafka:     nil,
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid := validateEventsConfig(tt.config)
			assert.Equal(t, tt.valid, valid)
		})
	}
}

func TestConfigValidation(t *testing.T) {
	validConfig := GetDefaultConfig()
	validConfig.Factory.Admin = "0x00000000000000000000000000000000000ad111"

	// 测试有效配置
	valid := ValidateConfig(validConfig)
	assert.True(t, valid)

	// 测试无效配置 - 空配置
	invalid := ValidateConfig(nil)
	assert.False(t, invalid)

	// 测试无效配置 - 缺少工厂配置
	invalidConfig := &Config{
		Factory:  nil,
		Registry: validConfig.Registry,
		Events:   validConfig.Events,
		API:      validConfig.API,
		Logging:  validConfig.Logging,
	}
	invalid = ValidateConfig(invalidConfig)
	assert.False(t, invalid)
}

// 辅助验证函数 - 这些在实际代码中应该存在
func validateFactoryConfig(config *FactoryConfig) bool {
	if config == nil {
		return false
	}
	if config.Address == "" {
		return false
	}
	if config.ClosedPageSize < 0 {
		return false
	}
	return true
}

func validateKafkaConfig(config *KafkaConfig) bool {
	if config == nil {
		return false
	}
	if len(config.Brokers) == 0 {
		return false
	}
	if len(config.Topics) == 0 {
		return false
	}
	return true
}

func validateEventsConfig(config *EventsConfig) bool {
	if config == nil {
		return false
	}

	validFormats := []string{"file", "memory", "kafka", "kafka_async"}
	validFormat := false
	for _, format := range validFormats {
		if config.Format == format {
			validFormat = true
			break
		}
	}
	if !validFormat {
		return false
	}

	// 如果是kafka格式，必须有kafka配置
	if (config.Format == "kafka" || config.Format == "kafka_async") && config.Kafka == nil {
		return false
	}

	// 如果有kafka配置，验证它
	if config.Kafka != nil {
		return validateKafkaConfig(config.Kafka)
	}

	return true
}

func ValidateConfig(config *Config) bool {
	if config == nil {
		return false
	}

	if !validateFactoryConfig(config.Factory) {
		return false
	}

	if config.Registry == nil || config.Registry.DBPath == "" {
		return false
	}

	if !validateEventsConfig(config.Events) {
		return false
	}

	return true
}

// 测试默认Kafka主题配置
func TestDefaultKafkaTopics(t *testing.T) {
	config := GetDefaultConfig()

	expectedTopics := map[string]string{
		"auction_registered": "auction_registered_events",
		"bidder_registered":  "bidder_registered_events",
		"bidder_removed":     "bidder_removed_events",
		"auction_closed":     "auction_closed_events",
		"transfer_issued":    "transfer_events",
	}

	assert.Equal(t, expectedTopics, config.Events.Kafka.Topics)
}

// 测试日志配置
func TestLoggingConfig(t *testing.T) {
	config := GetDefaultConfig()

	assert.NotNil(t, config.Logging)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "stdout", config.Logging.Output)
	assert.False(t, config.Logging.Rotation)
	assert.Equal(t, 100, config.Logging.MaxSize)
	assert.Equal(t, 30, config.Logging.MaxAge)
	assert.Equal(t, 3, config.Logging.MaxBackups)
	assert.True(t, config.Logging.Compress)
}

// 基准测试
func BenchmarkGetDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GetDefaultConfig()
	}
}

func BenchmarkValidateConfig(b *testing.B) {
	config := GetDefaultConfig()
	config.Factory.Admin = "0x00000000000000000000000000000000000ad111"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ValidateConfig(config)
	}
}
