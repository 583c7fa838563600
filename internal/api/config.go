package api

import (
	"net/http"

	"sealbid/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ConfigManager 配置管理器
type ConfigManager struct {
	dbConfig *config.DatabaseConfig
	logger   *logrus.Logger
}

// NewConfigManager 创建配置管理器
func NewConfigManager(dbConfig *config.DatabaseConfig, logger *logrus.Logger) *ConfigManager {
	return &ConfigManager{
		dbConfig: dbConfig,
		logger:   logger,
	}
}

// GetConfig 获取配置
func (cm *ConfigManager) GetConfig(c *gin.Context) {
	configType := c.Param("type")
	key := c.Query("key")

	if key == "" {
		// 获取所有配置
		configs, err := cm.dbConfig.ListConfigs(configType)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "获取配置失败",
				"message": err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"config_type": configType,
			"configs":     configs,
		})
		return
	}

	// 获取单个配置
	value, err := cm.dbConfig.GetConfig(configType, key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "配置不存在",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"config_type": configType,
		"key":         key,
		"value":       value,
	})
}

// UpdateConfig 更新配置
func (cm *ConfigManager) UpdateConfig(c *gin.Context) {
	configType := c.Param("type")

	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	err := cm.dbConfig.UpdateConfig(configType, req.Key, req.Value)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "更新配置失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "配置更新成功",
		"config": gin.H{
			"type":  configType,
			"key":   req.Key,
			"value": req.Value,
		},
	})
}

// GetTokenContracts 获取已登记的代币合约
func (cm *ConfigManager) GetTokenContracts(c *gin.Context) {
	query := `SELECT id, address, code_hash, symbol, decimals, is_active FROM token_contracts ORDER BY symbol`
	rows, err := cm.dbConfig.DB.Query(query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "获取代币合约失败",
			"message": err.Error(),
		})
		return
	}
	defer rows.Close()

	var contracts []gin.H
	for rows.Next() {
		var id, decimals int
		var address, codeHash, symbol string
		var isActive bool

		err := rows.Scan(&id, &address, &codeHash, &symbol, &decimals, &isActive)
		if err != nil {
			continue
		}

		contracts = append(contracts, gin.H{
			"id":        id,
			"address":   address,
			"code_hash": codeHash,
			"symbol":    symbol,
			"decimals":  decimals,
			"is_active": isActive,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"contracts": contracts,
	})
}

// AddTokenContract 登记代币合约
func (cm *ConfigManager) AddTokenContract(c *gin.Context) {
	var req struct {
		Address  string `json:"address" binding:"required"`
		CodeHash string `json:"code_hash" binding:"required"`
		Symbol   string `json:"symbol" binding:"required"`
		Decimals int    `json:"decimals"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	query := `INSERT INTO token_contracts (address, code_hash, symbol, decimals) VALUES ($1, $2, $3, $4)`
	_, err := cm.dbConfig.DB.Exec(query, req.Address, req.CodeHash, req.Symbol, req.Decimals)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "登记代币合约失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "代币合约登记成功",
		"contract": req,
	})
}

// UpdateTokenContract 更新代币合约
func (cm *ConfigManager) UpdateTokenContract(c *gin.Context) {
	contractID := c.Param("id")

	var req struct {
		Address  string `json:"address"`
		CodeHash string `json:"code_hash"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
		IsActive bool   `json:"is_active"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	query := `UPDATE token_contracts SET address = $1, code_hash = $2, symbol = $3, decimals = $4, is_active = $5 WHERE id = $6`
	_, err := cm.dbConfig.DB.Exec(query, req.Address, req.CodeHash, req.Symbol, req.Decimals, req.IsActive, contractID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "更新代币合约失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "代币合约更新成功",
	})
}

// DeleteTokenContract 删除代币合约
func (cm *ConfigManager) DeleteTokenContract(c *gin.Context) {
	contractID := c.Param("id")

	query := `DELETE FROM token_contracts WHERE id = $1`
	_, err := cm.dbConfig.DB.Exec(query, contractID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "删除代币合约失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "代币合约删除成功",
	})
}

// GetKafkaTopics 获取Kafka主题配置
func (cm *ConfigManager) GetKafkaTopics(c *gin.Context) {
	query := `SELECT id, event_type, topic_name, description, is_active FROM kafka_topics ORDER BY event_type`
	rows, err := cm.dbConfig.DB.Query(query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "获取Kafka主题配置失败",
			"message": err.Error(),
		})
		return
	}
	defer rows.Close()

	var topics []gin.H
	for rows.Next() {
		var id int
		var eventType, topicName, description string
		var isActive bool

		err := rows.Scan(&id, &eventType, &topicName, &description, &isActive)
		if err != nil {
			continue
		}

		topics = append(topics, gin.H{
			"id":          id,
			"event_type":  eventType,
			"topic_name":  topicName,
			"description": description,
			"is_active":   isActive,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"topics": topics,
	})
}

// UpdateKafkaTopic 更新Kafka主题配置
func (cm *ConfigManager) UpdateKafkaTopic(c *gin.Context) {
	topicID := c.Param("id")

	var req struct {
		EventType   string `json:"event_type"`
		TopicName   string `json:"topic_name"`
		Description string `json:"description"`
		IsActive    bool   `json:"is_active"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	query := `UPDATE kafka_topics SET event_type = $1, topic_name = $2, description = $3, is_active = $4 WHERE id = $5`
	_, err := cm.dbConfig.DB.Exec(query, req.EventType, req.TopicName, req.Description, req.IsActive, topicID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "更新Kafka主题失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Kafka主题更新成功",
	})
}
