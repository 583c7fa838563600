package models

import (
	"github.com/ethereum/go-ethereum/common"
)

// ContractInfo 合约地址和代码哈希
type ContractInfo struct {
	Address  common.Address `json:"address"`
	CodeHash string         `json:"code_hash"`
}

// TokenInfo 代币信息
type TokenInfo struct {
	Contract ContractInfo `json:"contract"`
	Symbol   string       `json:"symbol"`
	Decimals uint8        `json:"decimals"`
}

// Pair 返回 "SELL-BID" 形式的交易对字符串
func Pair(sellSymbol, bidSymbol string) string {
	return sellSymbol + "-" + bidSymbol
}

// TransferInstruction 出站代币转账指令
// 转账是单向的 fire-and-forget 消息，发起方不等待确认
type TransferInstruction struct {
	Token     ContractInfo   `json:"token"`
	Recipient common.Address `json:"recipient"`
	Amount    uint64         `json:"amount"`
}
