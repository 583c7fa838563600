package auction

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"sealbid/internal/auth"
	"sealbid/internal/errors"
	"sealbid/internal/escrow"
	"sealbid/internal/events"
	"sealbid/internal/token"
	"sealbid/pkg/models"
)

// FactoryNotifier 拍卖对工厂的回调面
// 回调在本地状态提交后发出，工厂按注册地址认证来源
type FactoryNotifier interface {
	RegisterBidder(auction common.Address, index uint64, bidder common.Address) error
	RemoveBidder(auction common.Address, index uint64, bidder common.Address) error
	CloseAuction(auction common.Address, index uint64, winner *common.Address, winningBid *uint64, closedAt int64) error
	ChangeAuctionInfo(auction common.Address, index uint64, newEndsAt *int64, newMinimumBid *uint64) error
}

// Auction 单场密封出价拍卖
// 状态机：待寄售 → 接受出价 → 已关闭（终态），只有 Finalize 能关闭
type Auction struct {
	mu       sync.Mutex
	logger   *logrus.Logger
	notifier FactoryNotifier
	keyring  *auth.Keyring
	ledger   *escrow.Ledger

	address     common.Address
	index       uint64
	label       string
	seller      common.Address
	sellToken   models.TokenInfo
	bidToken    models.TokenInfo
	sellAmount  uint64
	minimumBid  uint64
	endsAt      int64
	description string

	closed bool
	winner *models.WinningBid
	bids   map[common.Address]models.Bid
}

// NewAuction 实例化拍卖
func NewAuction(init *models.AuctionInitMsg, address common.Address, bank token.Transferer,
	publisher events.Publisher, notifier FactoryNotifier, logger *logrus.Logger) *Auction {

	sellToken := models.TokenInfo{
		Contract: init.SellContract,
		Symbol:   init.SellSymbol,
		Decimals: init.SellDecimals,
	}
	bidToken := models.TokenInfo{
		Contract: init.BidContract,
		Symbol:   init.BidSymbol,
		Decimals: init.BidDecimals,
	}

	return &Auction{
		logger:      logger,
		notifier:    notifier,
		keyring:     auth.NewKeyring(init.Label, logger),
		ledger:      escrow.NewLedger(address, init.Seller, init.SellContract, init.SellAmount, bank, publisher, logger),
		address:     address,
		index:       init.Index,
		label:       init.Label,
		seller:      init.Seller,
		sellToken:   sellToken,
		bidToken:    bidToken,
		sellAmount:  init.SellAmount,
		minimumBid:  init.MinimumBid,
		endsAt:      init.EndsAt,
		description: init.Description,
		bids:        make(map[common.Address]models.Bid),
	}
}

// Address 拍卖地址
func (a *Auction) Address() common.Address { return a.address }

// Index 工厂分配的索引
func (a *Auction) Index() uint64 { return a.index }

// Label 拍卖标签
func (a *Auction) Label() string { return a.label }

// Seller 卖方地址
func (a *Auction) Seller() common.Address { return a.seller }

// Pair 交易对字符串
func (a *Auction) Pair() string { return models.Pair(a.sellToken.Symbol, a.bidToken.Symbol) }

// EndsAt 计划结束时刻
func (a *Auction) EndsAt() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endsAt
}

// MinimumBid 当前最低出价
func (a *Auction) MinimumBid() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.minimumBid
}

// SellAmount 寄售目标数额
func (a *Auction) SellAmount() uint64 { return a.sellAmount }

// IsClosed 是否已关闭
func (a *Auction) IsClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// HasOutstanding 关闭后是否仍有未完成的退款
func (a *Auction) HasOutstanding() bool {
	return a.ledger.HasOutstanding()
}

// SetViewingKeyHash 接受工厂委托的查看密钥哈希
func (a *Auction) SetViewingKeyHash(address common.Address, hash auth.KeyHash) {
	a.keyring.SetKeyHash(address, hash)
}

// OnReceive 代币送达路由
// 卖方代币走寄售，出价代币走出价，其它代币原路退回
func (a *Auction) OnReceive(tokenInfo models.ContractInfo, from common.Address, amount uint64) error {
	switch tokenInfo.Address {
	case a.sellToken.Contract.Address:
		_, err := a.Consign(from, amount)
		return err
	case a.bidToken.Contract.Address:
		_, err := a.PlaceBid(from, amount, time.Now().Unix())
		return err
	default:
		a.ledger.ReleaseTo(tokenInfo, from, amount)
		return errors.ErrUnauthorized.WithContext("reason", "未知代币").WithAddress(from.Hex())
	}
}

// Consign 记录卖方寄售
func (a *Auction) Consign(sender common.Address, amount uint64) (*models.ConsignAnswer, error) {
	credited, needed, returned, err := a.ledger.Consign(sender, amount)
	if err != nil {
		return &models.ConsignAnswer{
			Status:         models.StatusFailure,
			Message:        "寄售被拒绝，代币已退回",
			AmountReturned: returned,
		}, err
	}

	message := "寄售已记账"
	if needed == 0 {
		message = "寄售已足额"
	}
	return &models.ConsignAnswer{
		Status:          models.StatusSuccess,
		Message:         message,
		AmountConsigned: credited,
		AmountNeeded:    needed,
		AmountReturned:  returned,
	}, nil
}

// PlaceBid 记录出价
// 零额、低于最低价或拍卖已关闭时拒绝并退回押金；
// 同一竞价者重复出价时较小的一笔退回，较大的保留；
// 等额重复出价保留原始时间戳，新押金退回
func (a *Auction) PlaceBid(bidder common.Address, amount uint64, ts int64) (*models.BidAnswer, error) {
	a.mu.Lock()

	if a.closed {
		a.mu.Unlock()
		a.ledger.ReleaseTo(a.bidToken.Contract, bidder, amount)
		return &models.BidAnswer{
			Status:         models.StatusFailure,
			Message:        "拍卖已关闭，出价已退回",
			AmountReturned: amount,
		}, errors.ErrAlreadyClosed.WithIndex(a.index)
	}
	if bidder == a.seller {
		a.mu.Unlock()
		a.ledger.ReleaseTo(a.bidToken.Contract, bidder, amount)
		return &models.BidAnswer{
			Status:         models.StatusFailure,
			Message:        "卖方不能对自己的拍卖出价，代币已退回",
			AmountReturned: amount,
		}, errors.ErrUnauthorized.WithIndex(a.index)
	}
	if amount == 0 {
		a.mu.Unlock()
		return &models.BidAnswer{
			Status:  models.StatusFailure,
			Message: "出价数额不能为零",
		}, errors.ErrZeroAmount.WithIndex(a.index)
	}
	if amount < a.minimumBid {
		minimum := a.minimumBid
		a.mu.Unlock()
		a.ledger.ReleaseTo(a.bidToken.Contract, bidder, amount)
		return &models.BidAnswer{
			Status:         models.StatusFailure,
			Message:        "出价低于最低价，已退回",
			MinimumBid:     &minimum,
			AmountReturned: amount,
		}, errors.ErrBelowMinimumBid.WithIndex(a.index)
	}

	// 出价表和押金账目在同一临界区内更新，Finalize 不会看到只有一半的出价
	previous, exists := a.bids[bidder]
	if !exists {
		// 新竞价者：入账并通知工厂，触发查看密钥委托
		a.bids[bidder] = models.Bid{Amount: amount, Timestamp: ts}
		a.ledger.DepositBid(bidder, amount)
		a.mu.Unlock()

		if a.notifier != nil {
			if err := a.notifier.RegisterBidder(a.address, a.index, bidder); err != nil {
				a.logger.Warnf("通知工厂注册竞价者失败: %v", err)
			}
		}
		return &models.BidAnswer{
			Status:    models.StatusSuccess,
			Message:   "出价已记录",
			AmountBid: amount,
		}, nil
	}

	switch {
	case amount == previous.Amount:
		// 等额重复出价：保留原始时间戳，退回新押金
		a.mu.Unlock()
		a.ledger.ReleaseTo(a.bidToken.Contract, bidder, amount)
		return &models.BidAnswer{
			Status:         models.StatusSuccess,
			Message:        "与现有出价等额，保留原出价，新押金已退回",
			PreviousBid:    &previous.Amount,
			AmountBid:      previous.Amount,
			AmountReturned: amount,
		}, nil

	case amount > previous.Amount:
		// 新出价更高：退回旧押金，存储新出价
		a.bids[bidder] = models.Bid{Amount: amount, Timestamp: ts}
		a.ledger.WithdrawBid(bidder)
		a.ledger.DepositBid(bidder, amount)
		a.mu.Unlock()

		a.ledger.ReleaseTo(a.bidToken.Contract, bidder, previous.Amount)
		return &models.BidAnswer{
			Status:         models.StatusSuccess,
			Message:        "出价已提高，旧押金已退回",
			PreviousBid:    &previous.Amount,
			AmountBid:      amount,
			AmountReturned: previous.Amount,
		}, nil

	default:
		// 新出价更低：保留旧出价，退回新押金
		a.mu.Unlock()
		a.ledger.ReleaseTo(a.bidToken.Contract, bidder, amount)
		return &models.BidAnswer{
			Status:         models.StatusSuccess,
			Message:        "新出价低于现有出价，保留原出价，新押金已退回",
			PreviousBid:    &previous.Amount,
			AmountBid:      previous.Amount,
			AmountReturned: amount,
		}, nil
	}
}

// RetractBid 撤回出价
// 任何时刻都合法（包括关闭后）；没有出价时返回中性消息而非错误
func (a *Auction) RetractBid(bidder common.Address) *models.RetractAnswer {
	a.mu.Lock()
	_, exists := a.bids[bidder]
	if !exists {
		a.mu.Unlock()
		return &models.RetractAnswer{
			Status:  models.StatusFailure,
			Message: "没有可撤回的出价",
		}
	}
	delete(a.bids, bidder)
	amount := a.ledger.WithdrawBid(bidder)
	stillOpen := !a.closed
	a.mu.Unlock()

	a.ledger.ReleaseTo(a.bidToken.Contract, bidder, amount)

	if stillOpen && a.notifier != nil {
		if err := a.notifier.RemoveBidder(a.address, a.index, bidder); err != nil {
			a.logger.Warnf("通知工厂移除竞价者失败: %v", err)
		}
	}

	return &models.RetractAnswer{
		Status:         models.StatusSuccess,
		Message:        "出价已撤回，押金已退回",
		AmountReturned: amount,
	}
}

// ResolveWinner 确定获胜出价
// 最高数额胜出；等额时最早时间戳胜出；再平手按地址字节序，结果与遍历顺序无关
func ResolveWinner(bids map[common.Address]models.Bid) (common.Address, models.Bid, bool) {
	var winner common.Address
	var best models.Bid
	found := false

	for bidder, bid := range bids {
		if !found {
			winner, best, found = bidder, bid, true
			continue
		}
		if bid.Amount > best.Amount {
			winner, best = bidder, bid
			continue
		}
		if bid.Amount == best.Amount {
			if bid.Timestamp < best.Timestamp ||
				(bid.Timestamp == best.Timestamp && bytes.Compare(bidder.Bytes(), winner.Bytes()) < 0) {
				winner, best = bidder, bid
			}
		}
	}
	return winner, best, found
}

// Finalize 关闭拍卖
// 结束时刻前只有卖方可以关闭，之后任何人都可以；
// onlyIfBids 且无出价时保持开放，可顺带更新结束时刻和最低价；
// 转账尽力而为，失败不回滚关闭，资金进入待重试列表
func (a *Auction) Finalize(caller common.Address, req *models.FinalizeRequest, now int64) (*models.CloseAnswer, error) {
	if req == nil {
		req = &models.FinalizeRequest{}
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, errors.ErrAlreadyClosed.WithIndex(a.index)
	}
	if now < a.endsAt && caller != a.seller {
		a.mu.Unlock()
		return nil, errors.ErrUnauthorized.WithIndex(a.index).WithAddress(caller.Hex())
	}

	if req.OnlyIfBids && len(a.bids) == 0 {
		// 无出价时保持开放，可更新结束时刻与最低价
		if req.NewEndsAt != nil {
			a.endsAt = *req.NewEndsAt
		}
		if req.NewMinimumBid != nil {
			a.minimumBid = *req.NewMinimumBid
		}
		newEndsAt, newMinimumBid := req.NewEndsAt, req.NewMinimumBid
		a.mu.Unlock()

		if (newEndsAt != nil || newMinimumBid != nil) && a.notifier != nil {
			if err := a.notifier.ChangeAuctionInfo(a.address, a.index, newEndsAt, newMinimumBid); err != nil {
				a.logger.Warnf("通知工厂更新拍卖信息失败: %v", err)
			}
		}
		return &models.CloseAnswer{
			Status:  models.StatusFailure,
			Message: "尚无出价，拍卖保持开放",
		}, nil
	}

	winner, best, hasWinner := ResolveWinner(a.bids)
	sold := hasWinner && a.ledger.FullyConsigned()

	a.closed = true
	losers := make([]common.Address, 0, len(a.bids))
	for bidder := range a.bids {
		if !sold || bidder != winner {
			losers = append(losers, bidder)
		}
	}
	a.bids = make(map[common.Address]models.Bid)

	var winningBid *models.WinningBid
	if sold {
		winningBid = &models.WinningBid{Bidder: winner, Amount: best.Amount}
		a.winner = winningBid
	}
	a.mu.Unlock()

	a.ledger.Close()

	returnedToCaller := uint64(0)

	// 寄售代币：成交发给获胜者，否则退回卖方
	consignment := a.ledger.DrainConsignment()
	if consignment > 0 {
		if sold {
			a.ledger.ReleaseTo(a.sellToken.Contract, winner, consignment)
		} else {
			a.ledger.ReleaseTo(a.sellToken.Contract, a.seller, consignment)
			if caller == a.seller {
				returnedToCaller += consignment
			}
		}
	}

	// 获胜押金发给卖方
	if sold {
		amount := a.ledger.WithdrawBid(winner)
		a.ledger.ReleaseTo(a.bidToken.Contract, a.seller, amount)
	}

	// 其余押金全部退回
	for _, bidder := range losers {
		amount := a.ledger.WithdrawBid(bidder)
		a.ledger.ReleaseTo(a.bidToken.Contract, bidder, amount)
		if bidder == caller {
			returnedToCaller += amount
		}
	}

	closedAt := now
	if a.notifier != nil {
		var winnerAddr *common.Address
		var winnerAmount *uint64
		if sold {
			winnerAddr = &winner
			winnerAmount = &best.Amount
		}
		if err := a.notifier.CloseAuction(a.address, a.index, winnerAddr, winnerAmount, closedAt); err != nil {
			a.logger.Warnf("通知工厂关闭拍卖失败: %v", err)
		}
	}

	message := "拍卖已关闭，未成交，资金已退回"
	if sold {
		message = "拍卖已成交"
	}
	if a.ledger.HasOutstanding() {
		message += "；存在未完成的出站转账，可调用 return_all 重试"
	}

	a.logger.WithFields(logrus.Fields{
		"index":  a.index,
		"sold":   sold,
		"caller": caller.Hex(),
	}).Info("拍卖关闭")

	return &models.CloseAnswer{
		Status:         models.StatusSuccess,
		Message:        message,
		WinningBid:     winningBid,
		AmountReturned: returnedToCaller,
	}, nil
}

// ReturnAll 重试所有未完成的出站转账
// 只在关闭后可用，任何人都可以调用，可重复调用
func (a *Auction) ReturnAll(caller common.Address) *models.CloseAnswer {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()

	if !closed {
		return &models.CloseAnswer{
			Status:  models.StatusFailure,
			Message: "拍卖尚未关闭",
		}
	}

	failed := a.ledger.RetryOutstanding()
	if failed > 0 {
		return &models.CloseAnswer{
			Status:  models.StatusFailure,
			Message: fmt.Sprintf("仍有 %d 笔转账未完成，可再次重试", failed),
		}
	}
	return &models.CloseAnswer{
		Status:  models.StatusSuccess,
		Message: "所有未完成转账已发出",
	}
}

// ChangeMinimumBid 调整最低出价
// 仅卖方在关闭前可调整；已存在的出价不会被追溯否决
func (a *Auction) ChangeMinimumBid(caller common.Address, minimumBid uint64) error {
	a.mu.Lock()
	if caller != a.seller {
		a.mu.Unlock()
		return errors.ErrUnauthorized.WithIndex(a.index).WithAddress(caller.Hex())
	}
	if a.closed {
		a.mu.Unlock()
		return errors.ErrAlreadyClosed.WithIndex(a.index)
	}
	a.minimumBid = minimumBid
	a.mu.Unlock()

	if a.notifier != nil {
		if err := a.notifier.ChangeAuctionInfo(a.address, a.index, nil, &minimumBid); err != nil {
			a.logger.Warnf("通知工厂更新拍卖信息失败: %v", err)
		}
	}
	return nil
}

// AuctionInfo 公开信息查询
func (a *Auction) AuctionInfo() *models.AuctionInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	status := models.StatusPendingConsignment
	if a.closed {
		status = models.StatusClosed
	} else if a.ledger.FullyConsigned() {
		status = models.StatusAcceptingBids
	}

	return &models.AuctionInfo{
		SellToken:        a.sellToken,
		BidToken:         a.bidToken,
		SellAmount:       a.sellAmount,
		MinimumBid:       a.minimumBid,
		EndsAt:           a.endsAt,
		Description:      a.description,
		AuctionAddress:   a.address,
		Status:           status,
		WinningBid:       a.winner,
		OutstandingFunds: a.ledger.HasOutstanding(),
	}
}

// ViewBid 认证查询自己的出价
func (a *Auction) ViewBid(bidder common.Address, viewingKey string) (*models.ViewBidAnswer, error) {
	if !a.keyring.Verify(bidder, viewingKey) {
		return nil, errors.ErrAuthenticationFailed.WithIndex(a.index)
	}

	a.mu.Lock()
	bid, exists := a.bids[bidder]
	a.mu.Unlock()

	if !exists {
		return &models.ViewBidAnswer{
			Status:  models.StatusFailure,
			Message: "未找到出价",
		}, nil
	}
	return &models.ViewBidAnswer{
		Status:    models.StatusSuccess,
		Message:   "出价有效",
		AmountBid: bid.Amount,
		Timestamp: bid.Timestamp,
	}, nil
}

// HasBids 认证查询是否存在出价，仅卖方可用
func (a *Auction) HasBids(caller common.Address, viewingKey string) (bool, error) {
	if caller != a.seller {
		return false, errors.ErrUnauthorized.WithIndex(a.index).WithAddress(caller.Hex())
	}
	if !a.keyring.Verify(caller, viewingKey) {
		return false, errors.ErrAuthenticationFailed.WithIndex(a.index)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bids) > 0, nil
}
