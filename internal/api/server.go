package api

import (
	"context"
	goerrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"sealbid/internal/auction"
	"sealbid/internal/config"
	"sealbid/internal/decoder"
	"sealbid/internal/errors"
	"sealbid/internal/factory"
	"sealbid/internal/token"
	"sealbid/internal/validation"
	"sealbid/pkg/models"
)

// Server API服务器
type Server struct {
	factory       *factory.Factory
	bank          *token.Bank
	config        *config.Config
	validator     *validation.Validator
	msgDecoder    *decoder.MsgDecoder
	logger        *logrus.Logger
	logManager    *LogManager
	configManager *ConfigManager
	server        *http.Server
	mu            sync.RWMutex
	startedAt     time.Time
	ctx           context.Context
	cancel        context.CancelFunc
	port          int
}

// NewServer 创建新的API服务器
func NewServer(cfg *config.Config, f *factory.Factory, bank *token.Bank, logger *logrus.Logger, port int) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	// 创建日志管理器
	logManager := NewLogManager(1000) // 最多保存1000条日志

	// 添加日志钩子
	logger.AddHook(NewLogHook(logManager))

	return &Server{
		factory:    f,
		bank:       bank,
		config:     cfg,
		validator:  validation.NewValidator(logger, false),
		msgDecoder: decoder.NewMsgDecoder(logger, false),
		logger:     logger,
		logManager: logManager,
		ctx:        ctx,
		cancel:     cancel,
		port:       port,
	}
}

// AttachConfigManager 挂载数据库配置管理路由，需要在Start之前调用
func (s *Server) AttachConfigManager(cm *ConfigManager) {
	s.configManager = cm
}

// Start 启动API服务器
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	// 添加CORS中间件
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// 添加中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// 设置路由
	s.setupRoutes(router)

	// 创建HTTP服务器
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	return s.server.ListenAndServe()
}

// Stop 停止API服务器
func (s *Server) Stop() error {
	s.cancel()

	if s.server != nil {
		return s.server.Shutdown(context.Background())
	}
	return nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	// 健康检查
	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		// 工厂操作
		api.POST("/auctions", s.createAuction)
		api.POST("/factory/status", s.setFactoryStatus)
		api.POST("/factory/versions", s.newContractVersion)

		// 工厂查询
		api.GET("/auctions", s.listActiveAuctions)
		api.GET("/auctions/closed", s.listClosedAuctions)
		api.GET("/auctions/mine", s.listMyAuctions)

		// 查看密钥
		api.POST("/viewing-keys", s.createViewingKey)
		api.PUT("/viewing-keys", s.setViewingKey)

		// 单场拍卖操作
		api.GET("/auctions/:index", s.getAuctionInfo)
		api.POST("/auctions/:index/send", s.sendToAuction)
		api.POST("/auctions/:index/finalize", s.finalizeAuction)
		api.POST("/auctions/:index/retract", s.retractBid)
		api.POST("/auctions/:index/return-all", s.returnAll)
		api.PUT("/auctions/:index/minimum-bid", s.changeMinimumBid)
		api.GET("/auctions/:index/bid", s.viewBid)
		api.GET("/auctions/:index/has-bids", s.hasBids)

		// 统计信息
		api.GET("/stats", s.getStats)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}

	// 数据库配置管理路由，仅在配置了数据库时可用
	if s.configManager != nil {
		admin := router.Group("/api/v1/admin")
		{
			admin.GET("/config/:type", s.configManager.GetConfig)
			admin.PUT("/config/:type", s.configManager.UpdateConfig)
			admin.GET("/tokens", s.configManager.GetTokenContracts)
			admin.POST("/tokens", s.configManager.AddTokenContract)
			admin.PUT("/tokens/:id", s.configManager.UpdateTokenContract)
			admin.DELETE("/tokens/:id", s.configManager.DeleteTokenContract)
			admin.GET("/kafka/topics", s.configManager.GetKafkaTopics)
			admin.PUT("/kafka/topics/:id", s.configManager.UpdateKafkaTopic)
		}
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "sealbid-api",
	})
}

// httpStatusFor 按错误类别映射HTTP状态码
func httpStatusFor(err error) int {
	var auctionErr *errors.AuctionError
	if !goerrors.As(err, &auctionErr) {
		return http.StatusInternalServerError
	}

	switch auctionErr.Kind {
	case errors.KindUnauthorized:
		return http.StatusForbidden
	case errors.KindAuthenticationFailed:
		return http.StatusUnauthorized
	case errors.KindAlreadyClosed:
		return http.StatusConflict
	case errors.KindStopped:
		return http.StatusServiceUnavailable
	case errors.KindZeroAmount, errors.KindSameTokenPair,
		errors.KindBelowMinimumBid, errors.KindInsufficientAllowanceOrBalance:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	var auctionErr *errors.AuctionError
	if goerrors.As(err, &auctionErr) {
		c.JSON(httpStatusFor(err), gin.H{
			"error": auctionErr.Message,
			"code":  auctionErr.Code,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// parseIndex 解析路径中的拍卖索引
func (s *Server) parseIndex(c *gin.Context) (uint64, bool) {
	index, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的拍卖索引"})
		return 0, false
	}
	return index, true
}

// lookupAuction 查找拍卖实例，已关闭的实例同样可寻址
func (s *Server) lookupAuction(c *gin.Context) (*auction.Auction, bool) {
	index, ok := s.parseIndex(c)
	if !ok {
		return nil, false
	}

	a, exists := s.factory.Auction(index)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "拍卖不存在"})
		return nil, false
	}
	return a, true
}

// createAuction 创建拍卖
func (s *Server) createAuction(c *gin.Context) {
	var req struct {
		Seller string `json:"seller"`
		models.CreateAuctionRequest
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !common.IsHexAddress(req.Seller) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的卖家地址"})
		return
	}

	// 验证请求
	result := s.validator.ValidateCreateAuction(&req.CreateAuctionRequest)
	if !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "创建拍卖请求验证失败",
			"details":  result.Errors,
			"warnings": result.Warnings,
		})
		return
	}

	summary, err := s.factory.CreateAuction(common.HexToAddress(req.Seller), &req.CreateAuctionRequest)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "拍卖已创建",
		"auction":  summary,
		"warnings": result.Warnings,
	})
}

// listActiveAuctions 按交易对列出活跃拍卖
func (s *Server) listActiveAuctions(c *gin.Context) {
	auctions, err := s.factory.ListActiveAuctions()
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	total := 0
	for _, group := range auctions {
		total += len(group)
	}

	c.JSON(http.StatusOK, gin.H{
		"auctions": auctions,
		"total":    total,
	})
}

// listClosedAuctions 分页列出已关闭拍卖
func (s *Server) listClosedAuctions(c *gin.Context) {
	var before *uint64
	if beforeStr := c.Query("before"); beforeStr != "" {
		v, err := strconv.ParseUint(beforeStr, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的before参数"})
			return
		}
		before = &v
	}

	pageSize := 0
	if s.config != nil && s.config.Factory != nil {
		pageSize = s.config.Factory.ClosedPageSize
	}
	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 {
			pageSize = ps
		}
	}

	closed, err := s.factory.ListClosedAuctions(before, pageSize)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"auctions": closed,
		"count":    len(closed),
	})
}

// listMyAuctions 列出调用者参与的拍卖，需要查看密钥
func (s *Server) listMyAuctions(c *gin.Context) {
	address := c.Query("address")
	viewingKey := c.GetHeader("Authorization")
	filter := c.DefaultQuery("filter", "all")

	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的地址"})
		return
	}

	mine, err := s.factory.ListMyAuctions(common.HexToAddress(address), viewingKey, filter)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, mine)
}

// createViewingKey 创建查看密钥
func (s *Server) createViewingKey(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
		Entropy string `json:"entropy"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !common.IsHexAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的地址"})
		return
	}

	key, err := s.factory.CreateViewingKey(common.HexToAddress(req.Address), req.Entropy)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ViewingKeyAnswer{Key: key})
}

// setViewingKey 设置查看密钥
func (s *Server) setViewingKey(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
		Key     string `json:"key"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !common.IsHexAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的地址"})
		return
	}

	if err := s.factory.SetViewingKey(common.HexToAddress(req.Address), req.Key); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ViewingKeyAnswer{Key: req.Key})
}

// getAuctionInfo 查询拍卖信息
func (s *Server) getAuctionInfo(c *gin.Context) {
	a, ok := s.lookupAuction(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, a.AuctionInfo())
}

// sendToAuction 向拍卖转账，可附带base64消息声明意图
// 寄售代币默认路由为consign，出价代币默认路由为place_bid
func (s *Server) sendToAuction(c *gin.Context) {
	a, ok := s.lookupAuction(c)
	if !ok {
		return
	}

	var req struct {
		From   string              `json:"from"`
		Token  models.ContractInfo `json:"token"`
		Amount uint64              `json:"amount"`
		Msg    string              `json:"msg,omitempty"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !common.IsHexAddress(req.From) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的发送方地址"})
		return
	}

	action, err := s.msgDecoder.Decode(req.Msg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.logger.Debugf("拍卖 #%d 收到转账，动作: %s", a.Index(), action)

	// Send触发到账钩子，由拍卖按代币种类路由
	if err := s.bank.Send(req.Token, common.HexToAddress(req.From), a.Address(), req.Amount); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "转账已送达",
		"action":  action.String(),
	})
}

// finalizeAuction 关闭拍卖
func (s *Server) finalizeAuction(c *gin.Context) {
	a, ok := s.lookupAuction(c)
	if !ok {
		return
	}

	var req struct {
		Caller string `json:"caller"`
		models.FinalizeRequest
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !common.IsHexAddress(req.Caller) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的调用者地址"})
		return
	}

	result := s.validator.ValidateFinalize(&req.FinalizeRequest)
	if !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "关闭请求验证失败",
			"details": result.Errors,
		})
		return
	}

	answer, err := a.Finalize(common.HexToAddress(req.Caller), &req.FinalizeRequest, time.Now().Unix())
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, answer)
}

// retractBid 撤回出价
func (s *Server) retractBid(c *gin.Context) {
	a, ok := s.lookupAuction(c)
	if !ok {
		return
	}

	var req struct {
		Bidder string `json:"bidder"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !common.IsHexAddress(req.Bidder) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的竞价者地址"})
		return
	}

	c.JSON(http.StatusOK, a.RetractBid(common.HexToAddress(req.Bidder)))
}

// returnAll 重试关闭后的未完成退款
func (s *Server) returnAll(c *gin.Context) {
	index, ok := s.parseIndex(c)
	if !ok {
		return
	}

	a, exists := s.factory.Auction(index)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "拍卖不存在"})
		return
	}

	var req struct {
		Caller string `json:"caller"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	answer := a.ReturnAll(common.HexToAddress(req.Caller))

	c.JSON(http.StatusOK, answer)
}

// changeMinimumBid 卖家修改最低出价
func (s *Server) changeMinimumBid(c *gin.Context) {
	a, ok := s.lookupAuction(c)
	if !ok {
		return
	}

	var req struct {
		Caller     string `json:"caller"`
		MinimumBid uint64 `json:"minimum_bid"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !common.IsHexAddress(req.Caller) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的调用者地址"})
		return
	}

	if err := a.ChangeMinimumBid(common.HexToAddress(req.Caller), req.MinimumBid); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "最低出价已更新",
		"minimum_bid": req.MinimumBid,
	})
}

// viewBid 查询自己的出价，需要查看密钥
func (s *Server) viewBid(c *gin.Context) {
	a, ok := s.lookupAuction(c)
	if !ok {
		return
	}

	bidder := c.Query("bidder")
	viewingKey := c.GetHeader("Authorization")

	if !common.IsHexAddress(bidder) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的竞价者地址"})
		return
	}

	answer, err := a.ViewBid(common.HexToAddress(bidder), viewingKey)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, answer)
}

// hasBids 卖家查询是否有活跃出价，需要查看密钥
func (s *Server) hasBids(c *gin.Context) {
	a, ok := s.lookupAuction(c)
	if !ok {
		return
	}

	caller := c.Query("caller")
	viewingKey := c.GetHeader("Authorization")

	if !common.IsHexAddress(caller) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的调用者地址"})
		return
	}

	has, err := a.HasBids(common.HexToAddress(caller), viewingKey)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"has_bids": has})
}

// setFactoryStatus 管理员启停工厂
func (s *Server) setFactoryStatus(c *gin.Context) {
	var req struct {
		Caller string `json:"caller"`
		Stop   bool   `json:"stop"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !common.IsHexAddress(req.Caller) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的调用者地址"})
		return
	}

	if err := s.factory.SetStatus(common.HexToAddress(req.Caller), req.Stop); err != nil {
		s.abortWithError(c, err)
		return
	}

	status := "running"
	if req.Stop {
		status = "stopped"
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "工厂状态已更新",
		"status":  status,
	})
}

// newContractVersion 管理员登记新合约版本
func (s *Server) newContractVersion(c *gin.Context) {
	var req struct {
		Caller  string                 `json:"caller"`
		Version models.ContractVersion `json:"version"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !common.IsHexAddress(req.Caller) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的调用者地址"})
		return
	}

	if err := s.factory.NewAuctionContract(common.HexToAddress(req.Caller), req.Version); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "合约版本已登记"})
}

// getStats 获取统计信息
func (s *Server) getStats(c *gin.Context) {
	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	auctions, err := s.factory.ListActiveAuctions()
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	active := 0
	for _, group := range auctions {
		active += len(group)
	}

	c.JSON(http.StatusOK, gin.H{
		"active_auctions":  active,
		"pairs":            len(auctions),
		"validation_stats": s.validator.GetValidationStats(),
		"uptime":           time.Since(startedAt).String(),
	})
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")
	component := c.Query("component")
	pageStr := c.Query("page")
	pageSizeStr := c.Query("pageSize")

	page := 1 // 默认第1页
	if pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}

	pageSize := 20 // 默认每页20条
	if pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 {
			pageSize = ps
		}
	}

	logs, total := s.logManager.GetLogsWithPagination(level, component, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()

	c.JSON(http.StatusOK, gin.H{
		"message": "日志已清空",
	})
}
