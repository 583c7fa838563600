package models

import (
	"github.com/ethereum/go-ethereum/common"
)

// ResponseStatus 操作结果状态
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusFailure ResponseStatus = "failure"
)

// CreateAuctionRequest create_auction 工厂操作
type CreateAuctionRequest struct {
	Label        string       `json:"label"`
	SellContract ContractInfo `json:"sell_contract"`
	BidContract  ContractInfo `json:"bid_contract"`
	SellSymbol   string       `json:"sell_symbol"`
	BidSymbol    string       `json:"bid_symbol"`
	SellDecimals uint8        `json:"sell_decimals"`
	BidDecimals  uint8        `json:"bid_decimals"`
	SellAmount   uint64       `json:"sell_amount"`
	MinimumBid   uint64       `json:"minimum_bid"`
	EndsAt       int64        `json:"ends_at"`
	Description  string       `json:"description,omitempty"`
}

// AuctionInitMsg 拍卖实例化消息，字段名属于线上契约
type AuctionInitMsg struct {
	Seller       common.Address `json:"seller"`
	Factory      ContractInfo   `json:"factory"`
	Index        uint64         `json:"index"`
	Label        string         `json:"label"`
	SellContract ContractInfo   `json:"sell_contract"`
	BidContract  ContractInfo   `json:"bid_contract"`
	SellAmount   uint64         `json:"sell_amount"`
	SellDecimals uint8          `json:"sell_decimals"`
	BidDecimals  uint8          `json:"bid_decimals"`
	SellSymbol   string         `json:"sell_symbol"`
	BidSymbol    string         `json:"bid_symbol"`
	MinimumBid   uint64         `json:"minimum_bid"`
	EndsAt       int64          `json:"ends_at"`
	Description  string         `json:"description,omitempty"`
}

// FinalizeRequest finalize 拍卖操作
// NewEndsAt/NewMinimumBid 仅在因无出价而保持开放时生效
type FinalizeRequest struct {
	OnlyIfBids    bool    `json:"only_if_bids"`
	NewEndsAt     *int64  `json:"new_ends_at,omitempty"`
	NewMinimumBid *uint64 `json:"new_minimum_bid,omitempty"`
}

// ConsignAnswer 寄售响应
type ConsignAnswer struct {
	Status          ResponseStatus `json:"status"`
	Message         string         `json:"message"`
	AmountConsigned uint64         `json:"amount_consigned"`
	AmountNeeded    uint64         `json:"amount_needed"`
	AmountReturned  uint64         `json:"amount_returned"`
}

// BidAnswer 出价响应
type BidAnswer struct {
	Status         ResponseStatus `json:"status"`
	Message        string         `json:"message"`
	PreviousBid    *uint64        `json:"previous_bid,omitempty"`
	MinimumBid     *uint64        `json:"minimum_bid,omitempty"`
	AmountBid      uint64         `json:"amount_bid"`
	AmountReturned uint64         `json:"amount_returned"`
}

// RetractAnswer retract_bid 响应，无出价时返回中性消息而非错误
type RetractAnswer struct {
	Status         ResponseStatus `json:"status"`
	Message        string         `json:"message"`
	AmountReturned uint64         `json:"amount_returned"`
}

// CloseAnswer finalize/return_all 响应
type CloseAnswer struct {
	Status         ResponseStatus `json:"status"`
	Message        string         `json:"message"`
	WinningBid     *WinningBid    `json:"winning_bid,omitempty"`
	AmountReturned uint64         `json:"amount_returned"`
}

// ViewBidAnswer view_bid 查询响应
type ViewBidAnswer struct {
	Status    ResponseStatus `json:"status"`
	Message   string         `json:"message"`
	AmountBid uint64         `json:"amount_bid"`
	Timestamp int64          `json:"timestamp"`
}

// ViewingKeyAnswer create_viewing_key/set_viewing_key 响应
type ViewingKeyAnswer struct {
	Key string `json:"key"`
}
