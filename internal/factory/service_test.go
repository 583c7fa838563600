package factory

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealbid/internal/events"
	"sealbid/internal/token"
	"sealbid/pkg/models"
)

var (
	factoryAddr  = common.HexToAddress("0xfac109")
	admin        = common.HexToAddress("0xad111")
	seller       = common.HexToAddress("0x5e11e4")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	sellContract = models.ContractInfo{Address: common.HexToAddress("0x1000"), CodeHash: "sellhash"}
	bidContract  = models.ContractInfo{Address: common.HexToAddress("0x2000"), CodeHash: "bidhash"}
)

func newTestFactory(t *testing.T) (*Factory, *token.Bank, *events.MemoryPublisher) {
	t.Helper()
	logger := logrus.New()
	store, err := NewStore(filepath.Join(t.TempDir(), "factory.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bank := token.NewBank(logger)
	publisher := events.NewMemoryPublisher()
	f, err := NewFactory(factoryAddr, admin, "工厂熵", store, bank, publisher, logger)
	require.NoError(t, err)
	return f, bank, publisher
}

func createRequest(label string) *models.CreateAuctionRequest {
	return &models.CreateAuctionRequest{
		Label:        label,
		SellContract: sellContract,
		BidContract:  bidContract,
		SellSymbol:   "SELL",
		BidSymbol:    "BID",
		SellAmount:   100,
		MinimumBid:   10,
		EndsAt:       1000,
	}
}

func fundAndCreate(t *testing.T, f *Factory, bank *token.Bank, label string) *models.AuctionSummary {
	t.Helper()
	bank.Mint(sellContract, seller, 100)
	bank.Approve(sellContract, seller, factoryAddr, 100)
	summary, err := f.CreateAuction(seller, createRequest(label))
	require.NoError(t, err)
	return summary
}

func TestCreateAuction(t *testing.T) {
	f, bank, publisher := newTestFactory(t)

	summary := fundAndCreate(t, f, bank, "拍卖一")
	assert.Equal(t, uint64(1), summary.Index)
	assert.Equal(t, "SELL-BID", summary.Pair)

	// 寄售代币已拉取到拍卖地址并足额记账
	assert.Equal(t, uint64(0), bank.BalanceOf(sellContract, seller))
	assert.Equal(t, uint64(100), bank.BalanceOf(sellContract, summary.Address))

	a, ok := f.Auction(summary.Index)
	require.True(t, ok)
	assert.Equal(t, models.StatusAcceptingBids, a.AuctionInfo().Status)

	require.Len(t, publisher.Registered, 1)
	assert.Equal(t, summary.Address, publisher.Registered[0].Auction)
}

func TestCreateAuction_Rejections(t *testing.T) {
	f, bank, _ := newTestFactory(t)

	// 零寄售额
	req := createRequest("零额")
	req.SellAmount = 0
	_, err := f.CreateAuction(seller, req)
	assert.Error(t, err)

	// 同币对
	req = createRequest("同币对")
	req.BidContract = sellContract
	_, err = f.CreateAuction(seller, req)
	assert.Error(t, err)

	// 授权不足：索引作废，永不进入列表
	_, err = f.CreateAuction(seller, createRequest("无授权"))
	assert.Error(t, err)
	active, err := f.ListActiveAuctions()
	require.NoError(t, err)
	assert.Empty(t, active)

	// 停止状态拒绝创建
	require.NoError(t, f.SetStatus(admin, true))
	bank.Mint(sellContract, seller, 100)
	bank.Approve(sellContract, seller, factoryAddr, 100)
	_, err = f.CreateAuction(seller, createRequest("已停止"))
	assert.Error(t, err)

	// 解除停止后可以创建
	require.NoError(t, f.SetStatus(admin, false))
	_, err = f.CreateAuction(seller, createRequest("恢复"))
	assert.NoError(t, err)
}

func TestCallbacks_AuctionAddressOnly(t *testing.T) {
	f, bank, _ := newTestFactory(t)
	summary := fundAndCreate(t, f, bank, "认证")

	// 非注册地址的回调被拒绝
	err := f.RegisterBidder(common.HexToAddress("0xbad"), summary.Index, alice)
	assert.Error(t, err)
	err = f.CloseAuction(common.HexToAddress("0xbad"), summary.Index, nil, nil, 500)
	assert.Error(t, err)

	// 注册地址的回调通过
	err = f.RegisterBidder(summary.Address, summary.Index, alice)
	assert.NoError(t, err)
}

func TestListActiveAuctions_GroupedByPair(t *testing.T) {
	f, bank, _ := newTestFactory(t)
	fundAndCreate(t, f, bank, "拍卖一")
	fundAndCreate(t, f, bank, "拍卖二")

	active, err := f.ListActiveAuctions()
	require.NoError(t, err)
	require.Len(t, active, 1)
	entries := active["SELL-BID"]
	require.Len(t, entries, 2)
	assert.Less(t, entries[0].Index, entries[1].Index)
}

func TestClosedLogPagination(t *testing.T) {
	f, bank, _ := newTestFactory(t)

	// 创建并关闭 5 场拍卖
	for i := 0; i < 5; i++ {
		summary := fundAndCreate(t, f, bank, fmt.Sprintf("拍卖%d", i+1))
		a, ok := f.Auction(summary.Index)
		require.True(t, ok)
		_, err := a.Finalize(seller, nil, 2000)
		require.NoError(t, err)
	}

	// 第一页：最新的两条
	page, err := f.ListClosedAuctions(nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(5), page[0].Index)
	assert.Equal(t, uint64(4), page[1].Index)

	// 游标取本页最后一个索引，下一页严格小于游标
	cursor := page[1].Index
	page, err = f.ListClosedAuctions(&cursor, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(3), page[0].Index)
	assert.Equal(t, uint64(2), page[1].Index)

	// 最后一页
	cursor = page[1].Index
	page, err = f.ListClosedAuctions(&cursor, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(1), page[0].Index)

	// 越过末尾返回空页
	cursor = page[0].Index
	page, err = f.ListClosedAuctions(&cursor, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestListMyAuctions(t *testing.T) {
	f, bank, _ := newTestFactory(t)
	summary := fundAndCreate(t, f, bank, "我的拍卖")

	key, err := f.CreateViewingKey(seller, "熵")
	require.NoError(t, err)

	// 错误密钥被拒绝
	_, err = f.ListMyAuctions(seller, "错误密钥", "all")
	assert.Error(t, err)

	mine, err := f.ListMyAuctions(seller, key, "all")
	require.NoError(t, err)
	require.Len(t, mine.ActiveAsSeller, 1)
	assert.Equal(t, summary.Index, mine.ActiveAsSeller[0].Index)
	assert.Empty(t, mine.ClosedAsSeller)

	// 关闭后迁入 closed 侧
	a, _ := f.Auction(summary.Index)
	_, err = a.Finalize(seller, nil, 2000)
	require.NoError(t, err)

	mine, err = f.ListMyAuctions(seller, key, "closed")
	require.NoError(t, err)
	assert.Empty(t, mine.ActiveAsSeller)
	require.Len(t, mine.ClosedAsSeller, 1)
}

func TestViewingKeyDelegation(t *testing.T) {
	f, bank, _ := newTestFactory(t)
	summary := fundAndCreate(t, f, bank, "委托")
	a, _ := f.Auction(summary.Index)

	// 竞价者先取得工厂密钥，出价后同一密钥在拍卖处生效
	key, err := f.CreateViewingKey(alice, "熵")
	require.NoError(t, err)

	bank.Mint(bidContract, alice, 50)
	require.NoError(t, bank.Send(bidContract, alice, summary.Address, 50))

	answer, err := a.ViewBid(alice, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), answer.AmountBid)

	// 出价在先、设键在后同样生效
	bob := common.HexToAddress("0xb0b")
	bank.Mint(bidContract, bob, 30)
	require.NoError(t, bank.Send(bidContract, bob, summary.Address, 30))

	require.NoError(t, f.SetViewingKey(bob, "鲍勃的密钥"))
	answer, err = a.ViewBid(bob, "鲍勃的密钥")
	require.NoError(t, err)
	assert.Equal(t, uint64(30), answer.AmountBid)

	assert.True(t, f.IsKeyValid(bob, "鲍勃的密钥"))
	assert.False(t, f.IsKeyValid(bob, "别的密钥"))
}

func TestWonAuctionsListed(t *testing.T) {
	f, bank, _ := newTestFactory(t)
	summary := fundAndCreate(t, f, bank, "成交")
	a, _ := f.Auction(summary.Index)

	bank.Mint(bidContract, alice, 50)
	require.NoError(t, bank.Send(bidContract, alice, summary.Address, 50))

	_, err := a.Finalize(seller, nil, 2000)
	require.NoError(t, err)

	key, err := f.CreateViewingKey(alice, "熵")
	require.NoError(t, err)
	mine, err := f.ListMyAuctions(alice, key, "closed")
	require.NoError(t, err)
	require.Len(t, mine.Won, 1)
	assert.Equal(t, summary.Index, mine.Won[0].Index)
	require.NotNil(t, mine.Won[0].WinningBid)
	assert.Equal(t, uint64(50), *mine.Won[0].WinningBid)
}

func TestClosedAuctionRemainsAddressable(t *testing.T) {
	f, bank, _ := newTestFactory(t)
	summary := fundAndCreate(t, f, bank, "收尾")

	a, ok := f.Auction(summary.Index)
	require.True(t, ok)
	_, err := a.Finalize(seller, nil, 2000)
	require.NoError(t, err)
	require.False(t, a.HasOutstanding())

	// 干净关闭后实例依然可寻址，记录永不删除
	a, ok = f.Auction(summary.Index)
	require.True(t, ok)
	assert.True(t, a.IsClosed())

	info := a.AuctionInfo()
	assert.Equal(t, models.StatusClosed, info.Status)

	// return_all 是无害的空操作，可重复调用
	answer := a.ReturnAll(alice)
	assert.Equal(t, models.StatusSuccess, answer.Status)
	answer = a.ReturnAll(alice)
	assert.Equal(t, models.StatusSuccess, answer.Status)

	// 关闭后撤回出价得到中性响应而非错误
	retract := a.RetractBid(alice)
	assert.Equal(t, uint64(0), retract.AmountReturned)
}

func TestCreateAuction_ConcurrentCreates(t *testing.T) {
	f, bank, _ := newTestFactory(t)

	const n = 4
	bank.Mint(sellContract, seller, 100*n)
	bank.Approve(sellContract, seller, factoryAddr, 100*n)

	var wg sync.WaitGroup
	summaries := make([]*models.AuctionSummary, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summaries[i], errs[i] = f.CreateAuction(seller, createRequest(fmt.Sprintf("并发%d", i)))
		}(i)
	}
	wg.Wait()

	// 所有创建都成功，索引互不相同且全部进入活跃列表
	seen := make(map[uint64]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[summaries[i].Index])
		seen[summaries[i].Index] = true
	}

	active, err := f.ListActiveAuctions()
	require.NoError(t, err)
	assert.Len(t, active["SELL-BID"], n)
	assert.Equal(t, uint64(0), bank.BalanceOf(sellContract, seller))
}

func TestAdminOperations(t *testing.T) {
	f, _, _ := newTestFactory(t)

	// 非管理员被拒绝
	assert.Error(t, f.SetStatus(alice, true))
	assert.Error(t, f.NewAuctionContract(alice, models.ContractVersion{CodeID: 2}))

	require.NoError(t, f.NewAuctionContract(admin, models.ContractVersion{CodeID: 2, CodeHash: "v2"}))
	version, err := f.store.CurrentVersion()
	require.NoError(t, err)
	require.NotNil(t, version)
	assert.Equal(t, uint64(2), version.CodeID)
}
