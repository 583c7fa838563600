package models

import (
	"github.com/ethereum/go-ethereum/common"
)

// AuctionStatus 拍卖状态字符串
const (
	StatusPendingConsignment = "pending_consignment"
	StatusAcceptingBids      = "accepting_bids"
	StatusClosed             = "closed"
)

// AuctionSummary 活跃拍卖的列表条目，按交易对分组展示
type AuctionSummary struct {
	Index      uint64         `json:"index"`
	Address    common.Address `json:"address"`
	Label      string         `json:"label"`
	Pair       string         `json:"pair"`
	SellAmount uint64         `json:"sell_amount"`
	MinimumBid uint64         `json:"minimum_bid"`
	EndsAt     int64          `json:"ends_at"`
}

// ClosedAuctionInfo 已关闭拍卖的日志条目，索引在注册时分配，用于稳定分页
type ClosedAuctionInfo struct {
	Index      uint64         `json:"index"`
	Address    common.Address `json:"address"`
	Label      string         `json:"label"`
	Pair       string         `json:"pair"`
	WinningBid *uint64        `json:"winning_bid,omitempty"`
	ClosedAt   int64          `json:"closed_at"`
}

// AuctionInfo auction_info 查询响应
type AuctionInfo struct {
	SellToken        TokenInfo      `json:"sell_token"`
	BidToken         TokenInfo      `json:"bid_token"`
	SellAmount       uint64         `json:"sell_amount"`
	MinimumBid       uint64         `json:"minimum_bid"`
	EndsAt           int64          `json:"ends_at"`
	Description      string         `json:"description,omitempty"`
	AuctionAddress   common.Address `json:"auction_address"`
	Status           string         `json:"status"`
	WinningBid       *WinningBid    `json:"winning_bid,omitempty"`
	OutstandingFunds bool           `json:"outstanding_funds"`
}

// MyAuctions list_my_auctions 查询响应
type MyAuctions struct {
	ActiveAsSeller []AuctionSummary    `json:"active_as_seller,omitempty"`
	ActiveAsBidder []AuctionSummary    `json:"active_as_bidder,omitempty"`
	ClosedAsSeller []ClosedAuctionInfo `json:"closed_as_seller,omitempty"`
	Won            []ClosedAuctionInfo `json:"won,omitempty"`
}

// ContractVersion 拍卖合约版本记录，最新条目用于后续 create_auction
type ContractVersion struct {
	CodeID   uint64 `json:"code_id"`
	CodeHash string `json:"code_hash"`
}
