package factory

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"sealbid/internal/auth"
	"sealbid/pkg/models"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/factory.db"

	// 存储桶名称
	AuctionsBucket  = "auctions"
	AddressesBucket = "addresses"
	ClosedBucket    = "closed"
	BiddersBucket   = "bidders"
	WinnersBucket   = "winners"
	VersionsBucket  = "versions"
	ConfigBucket    = "config"
	KeysBucket      = "keys"

	// 配置键
	IndexCounterKey = "index_counter"
	StoppedKey      = "stopped"
	AdminKey        = "admin"
	PendingKey      = "pending"
)

// AuctionRecord 主表条目，每个索引恰好一条
type AuctionRecord struct {
	Index      uint64          `json:"index"`
	Address    common.Address  `json:"address"`
	Label      string          `json:"label"`
	Seller     common.Address  `json:"seller"`
	Pair       string          `json:"pair"`
	SellAmount uint64          `json:"sell_amount"`
	MinimumBid uint64          `json:"minimum_bid"`
	EndsAt     int64           `json:"ends_at"`
	Closed     bool            `json:"closed"`
	Winner     *common.Address `json:"winner,omitempty"`
	WinningBid *uint64         `json:"winning_bid,omitempty"`
	ClosedAt   int64           `json:"closed_at,omitempty"`
}

// PendingRegistration 待注册记录
// 只有为该索引/标签创建的拍卖才允许完成注册
type PendingRegistration struct {
	Index  uint64         `json:"index"`
	Label  string         `json:"label"`
	Seller common.Address `json:"seller"`
}

// Store 工厂注册表存储
type Store struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	mu     sync.RWMutex

	// 内存缓存
	indexCounter uint64
	stopped      bool
	admin        common.Address
}

// NewStore 创建注册表存储
func NewStore(dbPath string, logger *logrus.Logger) (*Store, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	// 打开BoltDB数据库
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开注册表数据库失败: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger,
		dbPath: dbPath,
	}

	// 初始化数据库结构
	if err := store.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	// 加载缓存
	if err := store.loadCache(); err != nil {
		logger.Warnf("加载注册表缓存失败: %v", err)
	}

	logger.Infof("注册表存储已初始化，数据库路径: %s", dbPath)
	return store, nil
}

// initDB 初始化数据库结构
func (s *Store) initDB() error {
	buckets := []string{
		AuctionsBucket, AddressesBucket, ClosedBucket, BiddersBucket,
		WinnersBucket, VersionsBucket, ConfigBucket, KeysBucket,
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

// loadCache 加载缓存
func (s *Store) loadCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ConfigBucket))
		if bucket == nil {
			return nil
		}

		if data := bucket.Get([]byte(IndexCounterKey)); data != nil {
			s.indexCounter = binary.BigEndian.Uint64(data)
		}
		if data := bucket.Get([]byte(StoppedKey)); data != nil {
			s.stopped = data[0] == 1
		}
		if data := bucket.Get([]byte(AdminKey)); data != nil {
			s.admin = common.BytesToAddress(data)
		}
		return nil
	})
}

func indexKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

// NextIndex 分配下一个单调索引并持久化计数器
func (s *Store) NextIndex() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.indexCounter + 1
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ConfigBucket))
		if bucket == nil {
			return fmt.Errorf("配置存储桶不存在")
		}
		return bucket.Put([]byte(IndexCounterKey), indexKey(next))
	})
	if err != nil {
		return 0, fmt.Errorf("持久化索引计数器失败: %w", err)
	}
	s.indexCounter = next
	return next, nil
}

// SavePending 保存待注册记录
func (s *Store) SavePending(pending *PendingRegistration) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("序列化待注册记录失败: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ConfigBucket)).Put([]byte(PendingKey), data)
	})
}

// GetPending 读取待注册记录
func (s *Store) GetPending() (*PendingRegistration, error) {
	var pending *PendingRegistration
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(ConfigBucket)).Get([]byte(PendingKey))
		if data == nil {
			return nil
		}
		pending = &PendingRegistration{}
		return json.Unmarshal(data, pending)
	})
	return pending, err
}

// ClearPending 清除待注册记录
func (s *Store) ClearPending() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ConfigBucket)).Delete([]byte(PendingKey))
	})
}

// PutAuction 写入主表条目并维护地址索引
func (s *Store) PutAuction(record *AuctionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化拍卖记录失败: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(AuctionsBucket)).Put(indexKey(record.Index), data); err != nil {
			return fmt.Errorf("保存拍卖记录失败: %w", err)
		}
		return tx.Bucket([]byte(AddressesBucket)).Put(record.Address.Bytes(), indexKey(record.Index))
	})
}

// GetAuction 按索引读取主表条目
func (s *Store) GetAuction(index uint64) (*AuctionRecord, error) {
	var record *AuctionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(AuctionsBucket)).Get(indexKey(index))
		if data == nil {
			return nil
		}
		record = &AuctionRecord{}
		return json.Unmarshal(data, record)
	})
	return record, err
}

// IndexByAddress 按拍卖地址查索引
func (s *Store) IndexByAddress(address common.Address) (uint64, bool, error) {
	var index uint64
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(AddressesBucket)).Get(address.Bytes())
		if data == nil {
			return nil
		}
		index = binary.BigEndian.Uint64(data)
		found = true
		return nil
	})
	return index, found, err
}

// ListActive 列出所有未关闭的拍卖记录
func (s *Store) ListActive() ([]*AuctionRecord, error) {
	var records []*AuctionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(AuctionsBucket)).ForEach(func(k, v []byte) error {
			record := &AuctionRecord{}
			if err := json.Unmarshal(v, record); err != nil {
				return fmt.Errorf("反序列化拍卖记录失败: %w", err)
			}
			if !record.Closed {
				records = append(records, record)
			}
			return nil
		})
	})
	return records, err
}

// ListAll 列出全部主表条目
func (s *Store) ListAll() ([]*AuctionRecord, error) {
	var records []*AuctionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(AuctionsBucket)).ForEach(func(k, v []byte) error {
			record := &AuctionRecord{}
			if err := json.Unmarshal(v, record); err != nil {
				return fmt.Errorf("反序列化拍卖记录失败: %w", err)
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}

// MarkClosed 主表条目移入关闭日志，每个索引恰好迁移一次
func (s *Store) MarkClosed(index uint64, winner *common.Address, winningBid *uint64, closedAt int64) (*AuctionRecord, error) {
	var record *AuctionRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		auctions := tx.Bucket([]byte(AuctionsBucket))
		data := auctions.Get(indexKey(index))
		if data == nil {
			return fmt.Errorf("拍卖索引 %d 不存在", index)
		}
		record = &AuctionRecord{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("反序列化拍卖记录失败: %w", err)
		}
		if record.Closed {
			return fmt.Errorf("拍卖索引 %d 已关闭", index)
		}

		record.Closed = true
		record.Winner = winner
		record.WinningBid = winningBid
		record.ClosedAt = closedAt

		updated, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("序列化拍卖记录失败: %w", err)
		}
		if err := auctions.Put(indexKey(index), updated); err != nil {
			return fmt.Errorf("更新拍卖记录失败: %w", err)
		}

		entry := models.ClosedAuctionInfo{
			Index:      record.Index,
			Address:    record.Address,
			Label:      record.Label,
			Pair:       record.Pair,
			WinningBid: winningBid,
			ClosedAt:   closedAt,
		}
		entryData, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("序列化关闭日志条目失败: %w", err)
		}
		return tx.Bucket([]byte(ClosedBucket)).Put(indexKey(index), entryData)
	})
	return record, err
}

// UpdateAuctionInfo 更新主表条目的展示信息
func (s *Store) UpdateAuctionInfo(index uint64, newEndsAt *int64, newMinimumBid *uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		auctions := tx.Bucket([]byte(AuctionsBucket))
		data := auctions.Get(indexKey(index))
		if data == nil {
			return fmt.Errorf("拍卖索引 %d 不存在", index)
		}
		record := &AuctionRecord{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("反序列化拍卖记录失败: %w", err)
		}
		if newEndsAt != nil {
			record.EndsAt = *newEndsAt
		}
		if newMinimumBid != nil {
			record.MinimumBid = *newMinimumBid
		}
		updated, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("序列化拍卖记录失败: %w", err)
		}
		return auctions.Put(indexKey(index), updated)
	})
}

// ClosedPage 关闭日志分页
// 返回索引严格小于 before 的条目，按索引降序，最多 pageSize 条
func (s *Store) ClosedPage(before *uint64, pageSize int) ([]models.ClosedAuctionInfo, error) {
	var entries []models.ClosedAuctionInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(ClosedBucket)).Cursor()

		var k, v []byte
		if before != nil {
			// 定位到 before 之前的最后一个键
			k, v = cursor.Seek(indexKey(*before))
			if k == nil {
				k, v = cursor.Last()
			} else {
				k, v = cursor.Prev()
			}
		} else {
			k, v = cursor.Last()
		}

		for ; k != nil && len(entries) < pageSize; k, v = cursor.Prev() {
			var entry models.ClosedAuctionInfo
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("反序列化关闭日志条目失败: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// ClosedByIndices 按索引集合读取关闭日志条目，降序
func (s *Store) ClosedByIndices(indices []uint64) ([]models.ClosedAuctionInfo, error) {
	var entries []models.ClosedAuctionInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ClosedBucket))
		for _, index := range indices {
			data := bucket.Get(indexKey(index))
			if data == nil {
				continue
			}
			var entry models.ClosedAuctionInfo
			if err := json.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("反序列化关闭日志条目失败: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// AddBidder 记录竞价者参与
func (s *Store) AddBidder(index uint64, bidder common.Address) error {
	return s.updateBidders(index, func(bidders []common.Address) []common.Address {
		for _, b := range bidders {
			if b == bidder {
				return bidders
			}
		}
		return append(bidders, bidder)
	})
}

// RemoveBidder 移除竞价者参与记录
func (s *Store) RemoveBidder(index uint64, bidder common.Address) error {
	return s.updateBidders(index, func(bidders []common.Address) []common.Address {
		filtered := bidders[:0]
		for _, b := range bidders {
			if b != bidder {
				filtered = append(filtered, b)
			}
		}
		return filtered
	})
}

func (s *Store) updateBidders(index uint64, update func([]common.Address) []common.Address) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BiddersBucket))
		var bidders []common.Address
		if data := bucket.Get(indexKey(index)); data != nil {
			if err := json.Unmarshal(data, &bidders); err != nil {
				return fmt.Errorf("反序列化竞价者列表失败: %w", err)
			}
		}
		bidders = update(bidders)
		data, err := json.Marshal(bidders)
		if err != nil {
			return fmt.Errorf("序列化竞价者列表失败: %w", err)
		}
		return bucket.Put(indexKey(index), data)
	})
}

// Bidders 读取某场拍卖的竞价者
func (s *Store) Bidders(index uint64) ([]common.Address, error) {
	var bidders []common.Address
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(BiddersBucket)).Get(indexKey(index))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &bidders)
	})
	return bidders, err
}

// IndicesForBidder 某地址作为竞价者参与的所有索引
func (s *Store) IndicesForBidder(bidder common.Address) ([]uint64, error) {
	var indices []uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BiddersBucket)).ForEach(func(k, v []byte) error {
			var bidders []common.Address
			if err := json.Unmarshal(v, &bidders); err != nil {
				return fmt.Errorf("反序列化竞价者列表失败: %w", err)
			}
			for _, b := range bidders {
				if b == bidder {
					indices = append(indices, binary.BigEndian.Uint64(k))
					break
				}
			}
			return nil
		})
	})
	return indices, err
}

// AddWin 记录获胜索引
func (s *Store) AddWin(bidder common.Address, index uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(WinnersBucket))
		var indices []uint64
		if data := bucket.Get(bidder.Bytes()); data != nil {
			if err := json.Unmarshal(data, &indices); err != nil {
				return fmt.Errorf("反序列化获胜列表失败: %w", err)
			}
		}
		indices = append(indices, index)
		data, err := json.Marshal(indices)
		if err != nil {
			return fmt.Errorf("序列化获胜列表失败: %w", err)
		}
		return bucket.Put(bidder.Bytes(), data)
	})
}

// Wins 某地址获胜的所有索引
func (s *Store) Wins(bidder common.Address) ([]uint64, error) {
	var indices []uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(WinnersBucket)).Get(bidder.Bytes())
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &indices)
	})
	return indices, err
}

// AppendVersion 追加拍卖合约版本，最新条目用于后续创建
func (s *Store) AppendVersion(version models.ContractVersion) error {
	data, err := json.Marshal(version)
	if err != nil {
		return fmt.Errorf("序列化版本记录失败: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(VersionsBucket))
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("分配版本序号失败: %w", err)
		}
		return bucket.Put(indexKey(seq), data)
	})
}

// CurrentVersion 读取最新的拍卖合约版本
func (s *Store) CurrentVersion() (*models.ContractVersion, error) {
	var version *models.ContractVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		_, data := tx.Bucket([]byte(VersionsBucket)).Cursor().Last()
		if data == nil {
			return nil
		}
		version = &models.ContractVersion{}
		return json.Unmarshal(data, version)
	})
	return version, err
}

// SetStopped 设置停止状态
func (s *Store) SetStopped(stopped bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := byte(0)
	if stopped {
		value = 1
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ConfigBucket)).Put([]byte(StoppedKey), []byte{value})
	})
	if err != nil {
		return fmt.Errorf("持久化停止状态失败: %w", err)
	}
	s.stopped = stopped
	return nil
}

// IsStopped 是否处于停止状态
func (s *Store) IsStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// SetAdmin 设置管理员地址
func (s *Store) SetAdmin(admin common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ConfigBucket)).Put([]byte(AdminKey), admin.Bytes())
	})
	if err != nil {
		return fmt.Errorf("持久化管理员地址失败: %w", err)
	}
	s.admin = admin
	return nil
}

// Admin 管理员地址
func (s *Store) Admin() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admin
}

// PutKeyHash 持久化查看密钥哈希
func (s *Store) PutKeyHash(address common.Address, hash auth.KeyHash) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(KeysBucket)).Put(address.Bytes(), hash[:])
	})
}

// LoadKeyHashes 遍历所有持久化的查看密钥哈希
func (s *Store) LoadKeyHashes(fn func(address common.Address, hash auth.KeyHash)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(KeysBucket)).ForEach(func(k, v []byte) error {
			if len(v) != auth.KeySize {
				return nil
			}
			var hash auth.KeyHash
			copy(hash[:], v)
			fn(common.BytesToAddress(k), hash)
			return nil
		})
	})
}

// GetDBPath 数据库路径
func (s *Store) GetDBPath() string {
	return s.dbPath
}

// Close 关闭注册表存储
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info("关闭注册表存储")
		return s.db.Close()
	}
	return nil
}
