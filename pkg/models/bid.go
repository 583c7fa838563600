package models

import (
	"github.com/ethereum/go-ethereum/common"
)

// Bid 单个竞价者的当前有效出价
type Bid struct {
	Amount    uint64 `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// WinningBid 拍卖成交结果
type WinningBid struct {
	Bidder common.Address `json:"bidder"`
	Amount uint64         `json:"amount"`
}
