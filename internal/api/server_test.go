package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealbid/internal/config"
	"sealbid/internal/events"
	"sealbid/internal/factory"
	"sealbid/internal/token"
	"sealbid/pkg/models"
)

var (
	testFactoryAddr  = common.HexToAddress("0xfac109")
	testAdmin        = common.HexToAddress("0xad111")
	testSeller       = common.HexToAddress("0x5e11e4")
	testSellContract = models.ContractInfo{Address: common.HexToAddress("0x1000"), CodeHash: "sellhash"}
	testBidContract  = models.ContractInfo{Address: common.HexToAddress("0x2000"), CodeHash: "bidhash"}
)

func newTestServer(t *testing.T, closedPageSize int) (*Server, *gin.Engine, *factory.Factory, *token.Bank) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()

	store, err := factory.NewStore(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bank := token.NewBank(logger)
	f, err := factory.NewFactory(testFactoryAddr, testAdmin, "接口测试熵", store, bank, events.NewMemoryPublisher(), logger)
	require.NoError(t, err)

	cfg := &config.Config{
		Factory: &config.FactoryConfig{
			Address:        testFactoryAddr.Hex(),
			Admin:          testAdmin.Hex(),
			ClosedPageSize: closedPageSize,
		},
		API: &config.APIConfig{Port: 0},
	}

	s := NewServer(cfg, f, bank, logger, 0)
	router := gin.New()
	s.setupRoutes(router)
	return s, router, f, bank
}

func createAndClose(t *testing.T, f *factory.Factory, bank *token.Bank, label string) uint64 {
	t.Helper()
	bank.Mint(testSellContract, testSeller, 100)
	bank.Approve(testSellContract, testSeller, testFactoryAddr, 100)
	req := &models.CreateAuctionRequest{
		Label:        label,
		SellContract: testSellContract,
		BidContract:  testBidContract,
		SellSymbol:   "SELL",
		BidSymbol:    "BID",
		SellAmount:   100,
		MinimumBid:   10,
		EndsAt:       1000,
	}
	summary, err := f.CreateAuction(testSeller, req)
	require.NoError(t, err)

	a, ok := f.Auction(summary.Index)
	require.True(t, ok)
	_, err = a.Finalize(testSeller, nil, 2000)
	require.NoError(t, err)
	return summary.Index
}

func doRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListClosedAuctions_ConfiguredPageSize(t *testing.T) {
	_, router, f, bank := newTestServer(t, 2)
	for i := 0; i < 3; i++ {
		createAndClose(t, f, bank, fmt.Sprintf("关闭%d", i+1))
	}

	// 未指定 page_size 时使用配置的页大小
	w := doRequest(router, http.MethodGet, "/api/v1/auctions/closed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Auctions []models.ClosedAuctionInfo `json:"auctions"`
		Count    int                        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, uint64(3), page.Auctions[0].Index)

	// 显式参数覆盖配置
	w = doRequest(router, http.MethodGet, "/api/v1/auctions/closed?page_size=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Count)
}

func TestClosedAuctionOperationsOverHTTP(t *testing.T) {
	_, router, f, bank := newTestServer(t, 0)
	index := createAndClose(t, f, bank, "已关闭")

	// auction_info 在关闭后依然可查，状态为 closed
	w := doRequest(router, http.MethodGet, fmt.Sprintf("/api/v1/auctions/%d", index), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info models.AuctionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, models.StatusClosed, info.Status)

	// return_all 是无害的空操作，可重复调用
	body := map[string]string{"caller": testSeller.Hex()}
	for i := 0; i < 2; i++ {
		w = doRequest(router, http.MethodPost, fmt.Sprintf("/api/v1/auctions/%d/return-all", index), body)
		require.Equal(t, http.StatusOK, w.Code)
		var answer models.CloseAnswer
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &answer))
		assert.Equal(t, models.StatusSuccess, answer.Status)
	}

	// 关闭后撤回出价得到中性响应
	w = doRequest(router, http.MethodPost, fmt.Sprintf("/api/v1/auctions/%d/retract", index),
		map[string]string{"bidder": testSeller.Hex()})
	require.Equal(t, http.StatusOK, w.Code)
	var retract models.RetractAnswer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &retract))
	assert.Equal(t, uint64(0), retract.AmountReturned)
}
