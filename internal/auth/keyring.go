package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// 查看密钥格式常量
const (
	// KeyPrefix 查看密钥文本前缀
	KeyPrefix = "api_key_"
	// KeySize 密钥哈希长度（字节）
	KeySize = 32
)

// KeyHash 存储的密钥哈希，明文密钥从不落盘
type KeyHash [KeySize]byte

// Keyring 查看密钥环
// 只保存密钥哈希；种子在每次派生后前进，重复调用不会产生相同密钥
type Keyring struct {
	mu     sync.RWMutex
	logger *logrus.Logger
	seed   []byte
	hashes map[common.Address]KeyHash
}

// NewKeyring 创建密钥环
// 种子由调用方熵和创建时刻共同派生，只在创建时设置一次
func NewKeyring(entropy string, logger *logrus.Logger) *Keyring {
	var now [8]byte
	binary.BigEndian.PutUint64(now[:], uint64(time.Now().UnixNano()))
	seed := crypto.Keccak256([]byte(entropy), now[:])

	return &Keyring{
		logger: logger,
		seed:   seed,
		hashes: make(map[common.Address]KeyHash),
	}
}

// HashKey 计算查看密钥的哈希
func HashKey(key string) KeyHash {
	var h KeyHash
	copy(h[:], crypto.Keccak256([]byte(key)))
	return h
}

// CreateKey 派生高熵查看密钥并存储其哈希，返回明文密钥
// 种子在派生后前进，同一地址再次调用会得到不同密钥
func (k *Keyring) CreateKey(address common.Address, entropy string) string {
	k.mu.Lock()
	defer k.mu.Unlock()

	raw := crypto.Keccak256(k.seed, address.Bytes(), []byte(entropy))
	k.seed = crypto.Keccak256(k.seed, raw)

	key := KeyPrefix + base64.StdEncoding.EncodeToString(raw)
	k.hashes[address] = HashKey(key)

	if k.logger != nil {
		k.logger.Debugf("已为地址 %s 派生查看密钥", address.Hex())
	}
	return key
}

// SetKey 存储调用方自选密钥的哈希，覆盖旧值
// 不要求熵强度，密钥强度由调用方负责
func (k *Keyring) SetKey(address common.Address, key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hashes[address] = HashKey(key)
}

// SetKeyHash 直接写入哈希，用于工厂向拍卖委托认证
func (k *Keyring) SetKeyHash(address common.Address, hash KeyHash) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hashes[address] = hash
}

// LookupHash 读取某地址的存储哈希，用于委托传播
func (k *Keyring) LookupHash(address common.Address) (KeyHash, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	h, ok := k.hashes[address]
	return h, ok
}

// Verify 常数时间校验查看密钥
// 地址未设置密钥时仍然执行等价的比较，避免通过耗时区分"未设置"与"错误"
func (k *Keyring) Verify(address common.Address, suppliedKey string) bool {
	k.mu.RLock()
	stored, ok := k.hashes[address]
	k.mu.RUnlock()

	supplied := HashKey(suppliedKey)
	if !ok {
		var zero KeyHash
		subtle.ConstantTimeCompare(supplied[:], zero[:])
		return false
	}
	return subtle.ConstantTimeCompare(supplied[:], stored[:]) == 1
}
