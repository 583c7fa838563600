package escrow

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"sealbid/internal/events"
	"sealbid/internal/token"
	"sealbid/pkg/models"
)

var (
	sellToken = models.ContractInfo{Address: common.HexToAddress("0x1000"), CodeHash: "sellhash"}
	seller    = common.HexToAddress("0x5e11e4")
	stranger  = common.HexToAddress("0xdead")
	auction   = common.HexToAddress("0xa0c710")
)

func newTestLedger(t *testing.T, sellAmount uint64) (*Ledger, *token.Bank, *events.MemoryPublisher) {
	t.Helper()
	bank := token.NewBank(logrus.New())
	publisher := events.NewMemoryPublisher()
	ledger := NewLedger(auction, seller, sellToken, sellAmount, bank, publisher, logrus.New())
	return ledger, bank, publisher
}

func TestConsign_PartialThenExcess(t *testing.T) {
	ledger, bank, _ := newTestLedger(t, 100)
	bank.Mint(sellToken, auction, 200)

	credited, needed, returned, err := ledger.Consign(seller, 60)
	assert.NoError(t, err)
	assert.Equal(t, uint64(60), credited)
	assert.Equal(t, uint64(40), needed)
	assert.Equal(t, uint64(0), returned)
	assert.False(t, ledger.FullyConsigned())

	// 超出还需数额的部分退回
	credited, needed, returned, err = ledger.Consign(seller, 70)
	assert.NoError(t, err)
	assert.Equal(t, uint64(40), credited)
	assert.Equal(t, uint64(0), needed)
	assert.Equal(t, uint64(30), returned)
	assert.True(t, ledger.FullyConsigned())
	assert.Equal(t, uint64(30), bank.BalanceOf(sellToken, seller))
}

func TestConsign_NonSellerReturned(t *testing.T) {
	ledger, bank, _ := newTestLedger(t, 100)
	bank.Mint(sellToken, auction, 50)

	_, _, returned, err := ledger.Consign(stranger, 50)
	assert.Error(t, err)
	assert.Equal(t, uint64(50), returned)
	assert.Equal(t, uint64(0), ledger.Consigned())
	assert.Equal(t, uint64(50), bank.BalanceOf(sellToken, stranger))
}

func TestConsign_ClosedReturned(t *testing.T) {
	ledger, bank, _ := newTestLedger(t, 100)
	bank.Mint(sellToken, auction, 50)
	ledger.Close()

	_, _, returned, err := ledger.Consign(seller, 50)
	assert.Error(t, err)
	assert.Equal(t, uint64(50), returned)
	assert.Equal(t, uint64(0), ledger.Consigned())
}

func TestReleaseTo_PublishesTransfer(t *testing.T) {
	ledger, bank, publisher := newTestLedger(t, 100)
	bank.Mint(sellToken, auction, 80)

	err := ledger.ReleaseTo(sellToken, seller, 80)
	assert.NoError(t, err)
	assert.Len(t, publisher.Transfers, 1)
	assert.Equal(t, uint64(80), publisher.Transfers[0].Amount)
	assert.False(t, ledger.HasOutstanding())
}

func TestRetryOutstanding_Idempotent(t *testing.T) {
	ledger, bank, _ := newTestLedger(t, 100)

	// 余额不足导致转账失败，指令滞留
	err := ledger.ReleaseTo(sellToken, seller, 80)
	assert.Error(t, err)
	assert.True(t, ledger.HasOutstanding())

	// 资金到位后重试成功
	bank.Mint(sellToken, auction, 80)
	failed := ledger.RetryOutstanding()
	assert.Equal(t, 0, failed)
	assert.False(t, ledger.HasOutstanding())
	assert.Equal(t, uint64(80), bank.BalanceOf(sellToken, seller))

	// 再次重试是无害的空操作
	failed = ledger.RetryOutstanding()
	assert.Equal(t, 0, failed)
	assert.Equal(t, uint64(80), bank.BalanceOf(sellToken, seller))
}

func TestDepositBid_Accounting(t *testing.T) {
	ledger, _, _ := newTestLedger(t, 100)
	bidder := common.HexToAddress("0xb1dde4")

	ledger.DepositBid(bidder, 25)
	assert.Equal(t, uint64(25), ledger.BidDeposit(bidder))

	amount := ledger.WithdrawBid(bidder)
	assert.Equal(t, uint64(25), amount)
	assert.Equal(t, uint64(0), ledger.BidDeposit(bidder))
}
