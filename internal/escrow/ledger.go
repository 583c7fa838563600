package escrow

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"sealbid/internal/errors"
	"sealbid/internal/events"
	"sealbid/internal/token"
	"sealbid/pkg/models"
)

// Ledger 单场拍卖的托管账本
// 记录寄售进度和各竞价者的押金；出站转账是 fire-and-forget 的，
// 失败的转账进入 outstanding 列表等待显式重试
type Ledger struct {
	mu        sync.Mutex
	logger    *logrus.Logger
	bank      token.Transferer
	publisher events.Publisher

	self       common.Address
	seller     common.Address
	sellToken  models.ContractInfo
	sellAmount uint64

	closed    bool
	consigned uint64
	deposits  map[common.Address]uint64

	outstanding []models.TransferInstruction
}

// NewLedger 创建托管账本
func NewLedger(self, seller common.Address, sellToken models.ContractInfo, sellAmount uint64,
	bank token.Transferer, publisher events.Publisher, logger *logrus.Logger) *Ledger {
	return &Ledger{
		logger:     logger,
		bank:       bank,
		publisher:  publisher,
		self:       self,
		seller:     seller,
		sellToken:  sellToken,
		sellAmount: sellAmount,
		deposits:   make(map[common.Address]uint64),
	}
}

// Consign 记录卖方寄售
// 只接受卖方在拍卖开放期间的寄售；超出还需数额的部分立即原路退回，
// 非卖方或已关闭时全额退回且不改变任何状态
func (l *Ledger) Consign(sender common.Address, amount uint64) (credited, needed, returned uint64, err error) {
	l.mu.Lock()

	if sender != l.seller {
		l.mu.Unlock()
		l.release(l.sellToken, sender, amount)
		return 0, 0, amount, errors.ErrUnauthorized.WithAddress(sender.Hex())
	}
	if l.closed {
		l.mu.Unlock()
		l.release(l.sellToken, sender, amount)
		return 0, 0, amount, errors.ErrAlreadyClosed
	}

	needed = l.sellAmount - l.consigned
	credited = amount
	if credited > needed {
		credited = needed
	}
	l.consigned += credited
	needed -= credited
	returned = amount - credited
	l.mu.Unlock()

	if returned > 0 {
		l.release(l.sellToken, sender, returned)
	}

	l.logger.WithFields(logrus.Fields{
		"seller":    sender.Hex(),
		"credited":  credited,
		"needed":    needed,
		"returned":  returned,
		"consigned": l.Consigned(),
	}).Info("寄售已记账")

	return credited, needed, returned, nil
}

// Consigned 已寄售数额
func (l *Ledger) Consigned() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consigned
}

// Needed 还需寄售数额
func (l *Ledger) Needed() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sellAmount - l.consigned
}

// FullyConsigned 寄售是否已足额
func (l *Ledger) FullyConsigned() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consigned >= l.sellAmount
}

// DepositBid 记录竞价押金
func (l *Ledger) DepositBid(bidder common.Address, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deposits[bidder] += amount
}

// BidDeposit 查询竞价押金
func (l *Ledger) BidDeposit(bidder common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deposits[bidder]
}

// WithdrawBid 清除竞价押金记录并返回数额
func (l *Ledger) WithdrawBid(bidder common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount := l.deposits[bidder]
	delete(l.deposits, bidder)
	return amount
}

// DrainConsignment 清零寄售记录并返回数额，关闭时归还卖方用
func (l *Ledger) DrainConsignment() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount := l.consigned
	l.consigned = 0
	return amount
}

// Close 标记账本关闭，后续寄售全额退回
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

// ReleaseTo 发出出站转账
// 转账失败不回滚本地状态，失败的指令进入 outstanding 列表
func (l *Ledger) ReleaseTo(tokenInfo models.ContractInfo, recipient common.Address, amount uint64) error {
	return l.release(tokenInfo, recipient, amount)
}

func (l *Ledger) release(tokenInfo models.ContractInfo, recipient common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}

	instruction := models.TransferInstruction{
		Token:     tokenInfo,
		Recipient: recipient,
		Amount:    amount,
	}

	if err := l.bank.Transfer(tokenInfo, l.self, recipient, amount); err != nil {
		l.logger.WithFields(logrus.Fields{
			"token":     tokenInfo.Address.Hex(),
			"recipient": recipient.Hex(),
			"amount":    amount,
		}).Warnf("出站转账失败，进入待重试列表: %v", err)

		l.mu.Lock()
		l.outstanding = append(l.outstanding, instruction)
		l.mu.Unlock()
		return err
	}

	if l.publisher != nil {
		if err := l.publisher.PublishTransfer(&instruction); err != nil {
			l.logger.Warnf("发布转账事件失败: %v", err)
		}
	}
	return nil
}

// HasOutstanding 是否存在未完成的出站转账
func (l *Ledger) HasOutstanding() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.outstanding) > 0
}

// RetryOutstanding 重试所有未完成的出站转账，返回仍然失败的数量
// 可重复调用，全部成功后列表为空
func (l *Ledger) RetryOutstanding() int {
	l.mu.Lock()
	pending := l.outstanding
	l.outstanding = nil
	l.mu.Unlock()

	failed := 0
	for _, instruction := range pending {
		if err := l.release(instruction.Token, instruction.Recipient, instruction.Amount); err != nil {
			failed++
		}
	}
	return failed
}
