package token

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"sealbid/pkg/models"
)

var (
	sellToken = models.ContractInfo{Address: common.HexToAddress("0x1000"), CodeHash: "sellhash"}
	owner     = common.HexToAddress("0xaaaa")
	spender   = common.HexToAddress("0xbbbb")
	escrow    = common.HexToAddress("0xcccc")
)

type recordingReceiver struct {
	from   common.Address
	amount uint64
	calls  int
}

func (r *recordingReceiver) OnReceive(token models.ContractInfo, from common.Address, amount uint64) error {
	r.from = from
	r.amount = amount
	r.calls++
	return nil
}

func TestTransfer(t *testing.T) {
	bank := NewBank(logrus.New())
	bank.Mint(sellToken, owner, 100)

	err := bank.Transfer(sellToken, owner, escrow, 40)
	assert.NoError(t, err)
	assert.Equal(t, uint64(60), bank.BalanceOf(sellToken, owner))
	assert.Equal(t, uint64(40), bank.BalanceOf(sellToken, escrow))
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	bank := NewBank(logrus.New())
	bank.Mint(sellToken, owner, 10)

	err := bank.Transfer(sellToken, owner, escrow, 11)
	assert.Error(t, err)
	// 失败的转账不改变任何余额
	assert.Equal(t, uint64(10), bank.BalanceOf(sellToken, owner))
}

func TestTransferFrom(t *testing.T) {
	bank := NewBank(logrus.New())
	bank.Mint(sellToken, owner, 100)
	bank.Approve(sellToken, owner, spender, 50)

	err := bank.TransferFrom(sellToken, spender, owner, escrow, 50)
	assert.NoError(t, err)
	assert.Equal(t, uint64(50), bank.BalanceOf(sellToken, escrow))

	// 额度已耗尽
	err = bank.TransferFrom(sellToken, spender, owner, escrow, 1)
	assert.Error(t, err)
}

func TestSend_InvokesReceiver(t *testing.T) {
	bank := NewBank(logrus.New())
	bank.Mint(sellToken, owner, 100)

	receiver := &recordingReceiver{}
	bank.RegisterReceiver(escrow, receiver)

	err := bank.Send(sellToken, owner, escrow, 30)
	assert.NoError(t, err)
	assert.Equal(t, 1, receiver.calls)
	assert.Equal(t, owner, receiver.from)
	assert.Equal(t, uint64(30), receiver.amount)
	// 钩子看到的余额已经提交
	assert.Equal(t, uint64(30), bank.BalanceOf(sellToken, escrow))
}
