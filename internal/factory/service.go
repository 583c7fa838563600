package factory

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"sealbid/internal/auction"
	"sealbid/internal/auth"
	"sealbid/internal/errors"
	"sealbid/internal/events"
	"sealbid/internal/token"
	"sealbid/pkg/models"
)

// DefaultClosedPageSize 关闭日志默认分页大小
const DefaultClosedPageSize = 200

// TokenBackend 工厂需要的代币能力
type TokenBackend interface {
	token.Transferer
	token.AllowanceSpender
	RegisterReceiver(contract common.Address, r token.Receiver)
}

// Factory 拍卖工厂
// 唯一的拍卖目录：分配索引、实例化拍卖、维护活跃/关闭列表，
// 并作为查看密钥的认证中枢
type Factory struct {
	mu        sync.Mutex
	createMu  sync.Mutex
	logger    *logrus.Logger
	store     *Store
	keyring   *auth.Keyring
	bank      TokenBackend
	publisher events.Publisher

	address  common.Address
	auctions map[uint64]*auction.Auction
	// 已关闭的实例；拍卖记录永不删除，关闭后的查询、撤回和退款重试都走这里
	retained map[uint64]*auction.Auction
}

// NewFactory 创建拍卖工厂
func NewFactory(address, admin common.Address, entropy string, store *Store,
	bank TokenBackend, publisher events.Publisher, logger *logrus.Logger) (*Factory, error) {

	if store.Admin() == (common.Address{}) {
		if err := store.SetAdmin(admin); err != nil {
			return nil, err
		}
	}

	keyring := auth.NewKeyring(entropy, logger)
	if err := store.LoadKeyHashes(func(addr common.Address, hash auth.KeyHash) {
		keyring.SetKeyHash(addr, hash)
	}); err != nil {
		logger.Warnf("加载查看密钥哈希失败: %v", err)
	}

	return &Factory{
		logger:    logger,
		store:     store,
		keyring:   keyring,
		bank:      bank,
		publisher: publisher,
		address:   address,
		auctions:  make(map[uint64]*auction.Auction),
		retained:  make(map[uint64]*auction.Auction),
	}, nil
}

// Address 工厂地址
func (f *Factory) Address() common.Address { return f.address }

// Auction 取拍卖实例，活跃优先，其次是已关闭的实例
func (f *Factory) Auction(index uint64) (*auction.Auction, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.auctions[index]; ok {
		return a, true
	}
	a, ok := f.retained[index]
	return a, ok
}

// AuctionByAddress 按地址取活跃的拍卖实例
func (f *Factory) AuctionByAddress(address common.Address) (*auction.Auction, bool) {
	index, found, err := f.store.IndexByAddress(address)
	if err != nil || !found {
		return nil, false
	}
	return f.Auction(index)
}

func (f *Factory) deriveAddress(index uint64) common.Address {
	hash := crypto.Keccak256(f.address.Bytes(), indexKey(index))
	return common.BytesToAddress(hash[12:])
}

// CreateAuction 创建新拍卖
// 停止状态、零寄售额或同币对直接拒绝；
// 寄售代币通过卖方预先授予的额度拉取，拉取失败则索引作废且永不进入列表
func (f *Factory) CreateAuction(seller common.Address, req *models.CreateAuctionRequest) (*models.AuctionSummary, error) {
	if f.store.IsStopped() {
		return nil, errors.ErrStopped
	}
	if req.SellAmount == 0 {
		return nil, errors.ErrZeroAmount
	}
	if req.SellContract.Address == req.BidContract.Address {
		return nil, errors.ErrSameTokenPair
	}

	// 创建序列共享唯一的待注册槽位，整段串行
	f.createMu.Lock()
	defer f.createMu.Unlock()

	index, err := f.store.NextIndex()
	if err != nil {
		return nil, errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "INDEX_ALLOC_FAILED", "分配拍卖索引失败")
	}

	pending := &PendingRegistration{Index: index, Label: req.Label, Seller: seller}
	if err := f.store.SavePending(pending); err != nil {
		return nil, errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "PENDING_SAVE_FAILED", "保存待注册记录失败")
	}

	auctionAddr := f.deriveAddress(index)

	// 通过授权额度拉取寄售代币，失败则索引作废
	if err := f.bank.TransferFrom(req.SellContract, f.address, seller, auctionAddr, req.SellAmount); err != nil {
		f.store.ClearPending()
		return nil, errors.ErrInsufficientAllowanceOrBalance.WithIndex(index).WithAddress(seller.Hex())
	}

	init := &models.AuctionInitMsg{
		Seller:       seller,
		Factory:      models.ContractInfo{Address: f.address},
		Index:        index,
		Label:        req.Label,
		SellContract: req.SellContract,
		BidContract:  req.BidContract,
		SellAmount:   req.SellAmount,
		SellSymbol:   req.SellSymbol,
		BidSymbol:    req.BidSymbol,
		SellDecimals: req.SellDecimals,
		BidDecimals:  req.BidDecimals,
		MinimumBid:   req.MinimumBid,
		EndsAt:       req.EndsAt,
		Description:  req.Description,
	}
	if version, err := f.store.CurrentVersion(); err == nil && version != nil {
		init.Factory.CodeHash = version.CodeHash
	}

	a := auction.NewAuction(init, auctionAddr, f.bank, f.publisher, f, f.logger)
	f.bank.RegisterReceiver(auctionAddr, a)

	// 代币已经到账，直接在托管账本记账
	if _, err := a.Consign(seller, req.SellAmount); err != nil {
		f.logger.Errorf("寄售记账失败: %v", err)
	}

	f.mu.Lock()
	f.auctions[index] = a
	f.mu.Unlock()

	if err := f.RegisterAuction(auctionAddr, index, seller, req.Label); err != nil {
		return nil, err
	}

	// 卖方已有查看密钥时委托给新拍卖
	if hash, ok := f.keyring.LookupHash(seller); ok {
		a.SetViewingKeyHash(seller, hash)
	}

	summary := &models.AuctionSummary{
		Index:      index,
		Address:    auctionAddr,
		Label:      req.Label,
		Pair:       a.Pair(),
		SellAmount: req.SellAmount,
		MinimumBid: req.MinimumBid,
		EndsAt:     req.EndsAt,
	}

	f.logger.WithFields(logrus.Fields{
		"index":   index,
		"label":   req.Label,
		"seller":  seller.Hex(),
		"address": auctionAddr.Hex(),
	}).Info("拍卖已创建")

	return summary, nil
}

// RegisterAuction 完成拍卖注册
// 只有为当前待注册索引/标签创建的拍卖才允许注册，注册后才进入列表
func (f *Factory) RegisterAuction(auctionAddr common.Address, index uint64, seller common.Address, label string) error {
	pending, err := f.store.GetPending()
	if err != nil {
		return errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "PENDING_READ_FAILED", "读取待注册记录失败")
	}
	if pending == nil || pending.Index != index || pending.Label != label {
		return errors.ErrUnauthorized.WithIndex(index).WithAddress(auctionAddr.Hex())
	}

	a, ok := f.Auction(index)
	if !ok {
		return errors.ErrUnauthorized.WithIndex(index)
	}

	record := &AuctionRecord{
		Index:      index,
		Address:    auctionAddr,
		Label:      label,
		Seller:     seller,
		Pair:       a.Pair(),
		SellAmount: a.SellAmount(),
		MinimumBid: a.MinimumBid(),
		EndsAt:     a.EndsAt(),
	}
	if err := f.store.PutAuction(record); err != nil {
		return errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "AUCTION_SAVE_FAILED", "保存拍卖记录失败")
	}
	if err := f.store.ClearPending(); err != nil {
		f.logger.Warnf("清除待注册记录失败: %v", err)
	}

	if f.publisher != nil {
		event := &models.RegisterAuctionEvent{Index: index, Auction: auctionAddr, Seller: seller, Label: label}
		if err := f.publisher.PublishAuctionRegistered(event); err != nil {
			f.logger.Warnf("发布拍卖注册事件失败: %v", err)
		}
	}
	return nil
}

// authenticate 校验回调来源是该索引注册的拍卖地址
func (f *Factory) authenticate(auctionAddr common.Address, index uint64) (*AuctionRecord, error) {
	record, err := f.store.GetAuction(index)
	if err != nil {
		return nil, errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "AUCTION_READ_FAILED", "读取拍卖记录失败")
	}
	if record == nil || record.Address != auctionAddr {
		return nil, errors.ErrUnauthorized.WithIndex(index).WithAddress(auctionAddr.Hex())
	}
	return record, nil
}

// RegisterBidder 拍卖回报新竞价者
// 记录参与关系并把该竞价者的查看密钥哈希委托给拍卖
func (f *Factory) RegisterBidder(auctionAddr common.Address, index uint64, bidder common.Address) error {
	if _, err := f.authenticate(auctionAddr, index); err != nil {
		return err
	}
	if err := f.store.AddBidder(index, bidder); err != nil {
		return errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "BIDDER_SAVE_FAILED", "保存竞价者记录失败")
	}

	if a, ok := f.Auction(index); ok {
		if hash, exists := f.keyring.LookupHash(bidder); exists {
			a.SetViewingKeyHash(bidder, hash)
		}
	}

	if f.publisher != nil {
		event := &models.RegisterBidderEvent{Index: index, Bidder: bidder}
		if err := f.publisher.PublishBidderRegistered(event); err != nil {
			f.logger.Warnf("发布竞价者注册事件失败: %v", err)
		}
	}
	return nil
}

// RemoveBidder 拍卖回报竞价者撤回
func (f *Factory) RemoveBidder(auctionAddr common.Address, index uint64, bidder common.Address) error {
	if _, err := f.authenticate(auctionAddr, index); err != nil {
		return err
	}
	if err := f.store.RemoveBidder(index, bidder); err != nil {
		return errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "BIDDER_REMOVE_FAILED", "移除竞价者记录失败")
	}

	if f.publisher != nil {
		event := &models.RemoveBidderEvent{Index: index, Bidder: bidder}
		if err := f.publisher.PublishBidderRemoved(event); err != nil {
			f.logger.Warnf("发布竞价者移除事件失败: %v", err)
		}
	}
	return nil
}

// CloseAuction 拍卖回报关闭
// 索引从活跃列表迁入关闭日志恰好一次，成交时记录获胜者
func (f *Factory) CloseAuction(auctionAddr common.Address, index uint64, winner *common.Address, winningBid *uint64, closedAt int64) error {
	record, err := f.authenticate(auctionAddr, index)
	if err != nil {
		return err
	}

	if _, err := f.store.MarkClosed(index, winner, winningBid, closedAt); err != nil {
		return errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "CLOSE_SAVE_FAILED", "保存关闭记录失败")
	}
	if winner != nil {
		if err := f.store.AddWin(*winner, index); err != nil {
			f.logger.Warnf("保存获胜记录失败: %v", err)
		}
	}

	f.mu.Lock()
	if inst, ok := f.auctions[index]; ok {
		delete(f.auctions, index)
		f.retained[index] = inst
	}
	f.mu.Unlock()

	if f.publisher != nil {
		event := &models.CloseAuctionEvent{
			Index:      index,
			Seller:     record.Seller,
			Bidder:     winner,
			WinningBid: winningBid,
			ClosedAt:   closedAt,
		}
		if err := f.publisher.PublishAuctionClosed(event); err != nil {
			f.logger.Warnf("发布拍卖关闭事件失败: %v", err)
		}
	}
	return nil
}

// ChangeAuctionInfo 拍卖回报展示信息变更
func (f *Factory) ChangeAuctionInfo(auctionAddr common.Address, index uint64, newEndsAt *int64, newMinimumBid *uint64) error {
	if _, err := f.authenticate(auctionAddr, index); err != nil {
		return err
	}
	if err := f.store.UpdateAuctionInfo(index, newEndsAt, newMinimumBid); err != nil {
		return errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "INFO_UPDATE_FAILED", "更新拍卖信息失败")
	}
	return nil
}

func recordToSummary(record *AuctionRecord) models.AuctionSummary {
	return models.AuctionSummary{
		Index:      record.Index,
		Address:    record.Address,
		Label:      record.Label,
		Pair:       record.Pair,
		SellAmount: record.SellAmount,
		MinimumBid: record.MinimumBid,
		EndsAt:     record.EndsAt,
	}
}

// ListActiveAuctions 活跃拍卖列表，按交易对分组，组内按索引升序
func (f *Factory) ListActiveAuctions() (map[string][]models.AuctionSummary, error) {
	records, err := f.store.ListActive()
	if err != nil {
		return nil, errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "ACTIVE_LIST_FAILED", "读取活跃列表失败")
	}

	grouped := make(map[string][]models.AuctionSummary)
	for _, record := range records {
		grouped[record.Pair] = append(grouped[record.Pair], recordToSummary(record))
	}
	for pair := range grouped {
		entries := grouped[pair]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	}
	return grouped, nil
}

// ListClosedAuctions 关闭日志分页
// 返回索引严格小于 before 的条目，最新在前；游标取本页最后一个索引
func (f *Factory) ListClosedAuctions(before *uint64, pageSize int) ([]models.ClosedAuctionInfo, error) {
	if pageSize <= 0 {
		pageSize = DefaultClosedPageSize
	}
	entries, err := f.store.ClosedPage(before, pageSize)
	if err != nil {
		return nil, errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "CLOSED_LIST_FAILED", "读取关闭日志失败")
	}
	return entries, nil
}

// ListMyAuctions 认证查询某地址参与的拍卖
// filter 取 active、closed 或 all
func (f *Factory) ListMyAuctions(address common.Address, viewingKey, filter string) (*models.MyAuctions, error) {
	if !f.keyring.Verify(address, viewingKey) {
		return nil, errors.ErrAuthenticationFailed.WithAddress(address.Hex())
	}

	result := &models.MyAuctions{}
	wantActive := filter == "active" || filter == "all" || filter == ""
	wantClosed := filter == "closed" || filter == "all" || filter == ""

	records, err := f.store.ListAll()
	if err != nil {
		return nil, errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "AUCTION_LIST_FAILED", "读取拍卖记录失败")
	}

	bidderIndices, err := f.store.IndicesForBidder(address)
	if err != nil {
		return nil, errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "BIDDER_LIST_FAILED", "读取参与记录失败")
	}
	bidderSet := make(map[uint64]bool, len(bidderIndices))
	for _, index := range bidderIndices {
		bidderSet[index] = true
	}

	var closedAsSeller []uint64
	for _, record := range records {
		switch {
		case record.Seller == address && !record.Closed && wantActive:
			result.ActiveAsSeller = append(result.ActiveAsSeller, recordToSummary(record))
		case record.Seller == address && record.Closed && wantClosed:
			closedAsSeller = append(closedAsSeller, record.Index)
		case bidderSet[record.Index] && !record.Closed && wantActive:
			result.ActiveAsBidder = append(result.ActiveAsBidder, recordToSummary(record))
		}
	}

	if wantClosed {
		if result.ClosedAsSeller, err = f.store.ClosedByIndices(closedAsSeller); err != nil {
			return nil, errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "CLOSED_READ_FAILED", "读取关闭日志失败")
		}
		wins, err := f.store.Wins(address)
		if err != nil {
			return nil, errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "WINS_READ_FAILED", "读取获胜记录失败")
		}
		if result.Won, err = f.store.ClosedByIndices(wins); err != nil {
			return nil, errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "CLOSED_READ_FAILED", "读取关闭日志失败")
		}
	}

	return result, nil
}

// CreateViewingKey 派生查看密钥
// 哈希持久化并委托给该地址参与中的所有活跃拍卖
func (f *Factory) CreateViewingKey(address common.Address, entropy string) (string, error) {
	key := f.keyring.CreateKey(address, entropy)
	if err := f.persistAndPropagate(address); err != nil {
		return "", err
	}
	return key, nil
}

// SetViewingKey 设置调用方自选的查看密钥
func (f *Factory) SetViewingKey(address common.Address, key string) error {
	f.keyring.SetKey(address, key)
	return f.persistAndPropagate(address)
}

func (f *Factory) persistAndPropagate(address common.Address) error {
	hash, _ := f.keyring.LookupHash(address)
	if err := f.store.PutKeyHash(address, hash); err != nil {
		return errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "KEY_SAVE_FAILED", "持久化密钥哈希失败")
	}

	// 委托给该地址作为卖方或竞价者参与的所有活跃拍卖
	records, err := f.store.ListActive()
	if err != nil {
		return errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "ACTIVE_LIST_FAILED", "读取活跃列表失败")
	}
	bidderIndices, err := f.store.IndicesForBidder(address)
	if err != nil {
		return errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "BIDDER_LIST_FAILED", "读取参与记录失败")
	}
	bidderSet := make(map[uint64]bool, len(bidderIndices))
	for _, index := range bidderIndices {
		bidderSet[index] = true
	}

	for _, record := range records {
		if record.Seller != address && !bidderSet[record.Index] {
			continue
		}
		if a, ok := f.Auction(record.Index); ok {
			a.SetViewingKeyHash(address, hash)
		}
	}
	return nil
}

// IsKeyValid 拍卖向工厂校验查看密钥
func (f *Factory) IsKeyValid(address common.Address, viewingKey string) bool {
	return f.keyring.Verify(address, viewingKey)
}

// NewAuctionContract 追加拍卖合约版本，仅管理员
func (f *Factory) NewAuctionContract(caller common.Address, version models.ContractVersion) error {
	if caller != f.store.Admin() {
		return errors.ErrUnauthorized.WithAddress(caller.Hex())
	}
	if err := f.store.AppendVersion(version); err != nil {
		return errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "VERSION_SAVE_FAILED", "保存版本记录失败")
	}
	f.logger.Infof("拍卖合约版本已更新: code_id=%d", version.CodeID)
	return nil
}

// SetStatus 切换停止状态，仅管理员
// 停止后拒绝创建新拍卖，已有拍卖不受影响
func (f *Factory) SetStatus(caller common.Address, stop bool) error {
	if caller != f.store.Admin() {
		return errors.ErrUnauthorized.WithAddress(caller.Hex())
	}
	if err := f.store.SetStopped(stop); err != nil {
		return errors.WrapError(err, errors.KindStorage, errors.SeverityHigh, "STATUS_SAVE_FAILED", "保存停止状态失败")
	}
	f.logger.Infof("工厂停止状态: %v", stop)
	return nil
}

// Close 关闭工厂，落盘注册表
func (f *Factory) Close() error {
	return f.store.Close()
}
