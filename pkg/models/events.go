package models

import (
	"github.com/ethereum/go-ethereum/common"
)

// 跨合约通知事件类型
// 通知是附加在状态转换结果上的出站消息，本地状态先提交，宿主随后分发
const (
	EventAuctionRegistered = "auction_registered"
	EventBidderRegistered  = "bidder_registered"
	EventBidderRemoved     = "bidder_removed"
	EventAuctionClosed     = "auction_closed"
	EventTransferIssued    = "transfer_issued"
)

// RegisterAuctionEvent 拍卖实例化完成后向工厂回报
type RegisterAuctionEvent struct {
	Index   uint64         `json:"index"`
	Auction common.Address `json:"auction"`
	Seller  common.Address `json:"seller"`
	Label   string         `json:"label"`
}

// RegisterBidderEvent 新竞价者首次出价通知
type RegisterBidderEvent struct {
	Index  uint64         `json:"index"`
	Bidder common.Address `json:"bidder"`
}

// RemoveBidderEvent 竞价者撤回出价通知
type RemoveBidderEvent struct {
	Index  uint64         `json:"index"`
	Bidder common.Address `json:"bidder"`
}

// CloseAuctionEvent 拍卖关闭通知，成交时携带获胜者
type CloseAuctionEvent struct {
	Index      uint64          `json:"index"`
	Seller     common.Address  `json:"seller"`
	Bidder     *common.Address `json:"bidder,omitempty"`
	WinningBid *uint64         `json:"winning_bid,omitempty"`
	ClosedAt   int64           `json:"closed_at"`
}
