package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"sealbid/pkg/models"
)

// Transferer 出站转账能力
// 转账是 fire-and-forget 的：发起方不回滚自身状态，失败由显式恢复操作兜底
type Transferer interface {
	Transfer(token models.ContractInfo, from, to common.Address, amount uint64) error
}

// AllowanceSpender 授权额度扣划能力，工厂创建拍卖时用它拉取寄售代币
type AllowanceSpender interface {
	TransferFrom(token models.ContractInfo, spender, owner, to common.Address, amount uint64) error
}

// Receiver 代币送达钩子
// 合约在代币到账后收到回调，对应 Send 触发的 Receive 消息
type Receiver interface {
	OnReceive(token models.ContractInfo, from common.Address, amount uint64) error
}

// Bank 内存代币账本
// 代币合约在系统中是外部协作者，这里只实现余额/授权/送达钩子语义
type Bank struct {
	mu         sync.Mutex
	logger     *logrus.Logger
	balances   map[common.Address]map[common.Address]uint64
	allowances map[common.Address]map[common.Address]map[common.Address]uint64
	receivers  map[common.Address]Receiver
}

// NewBank 创建内存账本
func NewBank(logger *logrus.Logger) *Bank {
	return &Bank{
		logger:     logger,
		balances:   make(map[common.Address]map[common.Address]uint64),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]uint64),
		receivers:  make(map[common.Address]Receiver),
	}
}

// Mint 铸造余额（测试与本地模式）
func (b *Bank) Mint(token models.ContractInfo, owner common.Address, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(token.Address, owner, amount)
}

// BalanceOf 查询余额
func (b *Bank) BalanceOf(token models.ContractInfo, owner common.Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[token.Address][owner]
}

// Approve 设置授权额度
func (b *Bank) Approve(token models.ContractInfo, owner, spender common.Address, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.allowances[token.Address] == nil {
		b.allowances[token.Address] = make(map[common.Address]map[common.Address]uint64)
	}
	if b.allowances[token.Address][owner] == nil {
		b.allowances[token.Address][owner] = make(map[common.Address]uint64)
	}
	b.allowances[token.Address][owner][spender] = amount
}

// RegisterReceiver 注册送达钩子，对应合约实例化时的 register_receive
func (b *Bank) RegisterReceiver(contract common.Address, r Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receivers[contract] = r
}

// Transfer 余额划转
func (b *Bank) Transfer(token models.ContractInfo, from, to common.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(token.Address, from, to, amount)
}

// TransferFrom 按授权额度划转
func (b *Bank) TransferFrom(token models.ContractInfo, spender, owner, to common.Address, amount uint64) error {
	b.mu.Lock()
	allowed := b.allowances[token.Address][owner][spender]
	if allowed < amount {
		b.mu.Unlock()
		return fmt.Errorf("授权额度不足: %d < %d", allowed, amount)
	}
	if err := b.move(token.Address, owner, to, amount); err != nil {
		b.mu.Unlock()
		return err
	}
	b.allowances[token.Address][owner][spender] = allowed - amount
	b.mu.Unlock()
	return nil
}

// Send 划转并触发接收方钩子，对应代币合约的 Send 消息
func (b *Bank) Send(token models.ContractInfo, from, to common.Address, amount uint64) error {
	b.mu.Lock()
	if err := b.move(token.Address, from, to, amount); err != nil {
		b.mu.Unlock()
		return err
	}
	receiver := b.receivers[to]
	b.mu.Unlock()

	// 钩子在余额提交之后调用，接收方看到的是已到账的状态
	if receiver != nil {
		return receiver.OnReceive(token, from, amount)
	}
	return nil
}

func (b *Bank) move(token, from, to common.Address, amount uint64) error {
	balance := b.balances[token][from]
	if balance < amount {
		return fmt.Errorf("余额不足: %d < %d", balance, amount)
	}
	b.balances[token][from] = balance - amount
	b.credit(token, to, amount)
	return nil
}

func (b *Bank) credit(token, owner common.Address, amount uint64) {
	if b.balances[token] == nil {
		b.balances[token] = make(map[common.Address]uint64)
	}
	b.balances[token][owner] += amount
}
