package auth

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestCreateKey(t *testing.T) {
	logger := logrus.New()
	kr := NewKeyring("初始熵", logger)

	key := kr.CreateKey(alice, "更多熵")

	assert.True(t, strings.HasPrefix(key, KeyPrefix))
	assert.True(t, kr.Verify(alice, key))
	assert.False(t, kr.Verify(bob, key))
}

func TestCreateKey_SeedAdvances(t *testing.T) {
	kr := NewKeyring("初始熵", logrus.New())

	// 相同地址和熵重复派生不会碰撞
	key1 := kr.CreateKey(alice, "熵")
	key2 := kr.CreateKey(alice, "熵")

	assert.NotEqual(t, key1, key2)
	// 新密钥覆盖旧哈希
	assert.False(t, kr.Verify(alice, key1))
	assert.True(t, kr.Verify(alice, key2))
}

func TestSetKey(t *testing.T) {
	kr := NewKeyring("初始熵", logrus.New())

	kr.SetKey(alice, "我的弱密钥")

	assert.True(t, kr.Verify(alice, "我的弱密钥"))
	assert.False(t, kr.Verify(alice, "别的密钥"))
}

func TestVerify_MissingKey(t *testing.T) {
	kr := NewKeyring("初始熵", logrus.New())

	// 未设置密钥的地址只返回失败，不抛异常
	assert.False(t, kr.Verify(bob, "任意密钥"))
}

func TestSetKeyHash_Delegation(t *testing.T) {
	factory := NewKeyring("工厂熵", logrus.New())
	auction := NewKeyring("拍卖熵", logrus.New())

	key := factory.CreateKey(alice, "熵")
	hash, ok := factory.LookupHash(alice)
	assert.True(t, ok)

	// 工厂把哈希委托给拍卖后，同一密钥在拍卖处透明认证
	auction.SetKeyHash(alice, hash)
	assert.True(t, auction.Verify(alice, key))
}
