package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sealbid/pkg/models"
)

// Publisher 跨合约通知发布接口
// 通知是 fire-and-forget 的出站消息：本地状态先提交，发布随后进行，
// 发起方不等待也无法观察接收方的处理结果
type Publisher interface {
	PublishAuctionRegistered(ev *models.RegisterAuctionEvent) error
	PublishBidderRegistered(ev *models.RegisterBidderEvent) error
	PublishBidderRemoved(ev *models.RemoveBidderEvent) error
	PublishAuctionClosed(ev *models.CloseAuctionEvent) error
	PublishTransfer(ti *models.TransferInstruction) error
	Close() error
}

// DefaultTopics 默认topic映射
var DefaultTopics = map[string]string{
	models.EventAuctionRegistered: "auction_registered_events",
	models.EventBidderRegistered:  "bidder_registered_events",
	models.EventBidderRemoved:     "bidder_removed_events",
	models.EventAuctionClosed:     "auction_closed_events",
	models.EventTransferIssued:    "transfer_events",
}

// NewPublisher 创建发布器（根据格式选择实现）
func NewPublisher(format, outputDir string, brokers []string, topics map[string]string, logger *logrus.Logger) (Publisher, error) {
	if len(topics) == 0 {
		topics = DefaultTopics
	}

	switch format {
	case "kafka":
		return NewKafkaPublisher(brokers, topics, logger)
	case "kafka_async":
		return NewAsyncKafkaPublisher(brokers, topics, logger)
	case "file":
		return NewFilePublisher(outputDir, logger)
	case "memory":
		return NewMemoryPublisher(), nil
	default:
		return nil, fmt.Errorf("不支持的事件输出格式: %s", format)
	}
}

// FilePublisher 文件发布器，每类事件一个JSON行文件
type FilePublisher struct {
	logger *logrus.Logger
	mu     sync.Mutex
	files  map[string]*os.File
	dir    string
}

// NewFilePublisher 创建文件发布器
func NewFilePublisher(outputDir string, logger *logrus.Logger) (*FilePublisher, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建事件输出目录失败: %w", err)
	}

	return &FilePublisher{
		logger: logger,
		files:  make(map[string]*os.File),
		dir:    outputDir,
	}, nil
}

func (f *FilePublisher) write(eventType string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, ok := f.files[eventType]
	if !ok {
		timestamp := time.Now().Format("20060102_150405")
		path := filepath.Join(f.dir, fmt.Sprintf("%s_%s.json", eventType, timestamp))
		created, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("创建事件文件失败: %w", err)
		}
		f.files[eventType] = created
		file = created
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	jsonData = append(jsonData, '\n')

	if _, err := file.Write(jsonData); err != nil {
		return fmt.Errorf("写入事件文件失败: %w", err)
	}
	return file.Sync()
}

// PublishAuctionRegistered 发布拍卖注册事件
func (f *FilePublisher) PublishAuctionRegistered(ev *models.RegisterAuctionEvent) error {
	if ev == nil {
		return nil
	}
	return f.write(models.EventAuctionRegistered, ev)
}

// PublishBidderRegistered 发布竞价者注册事件
func (f *FilePublisher) PublishBidderRegistered(ev *models.RegisterBidderEvent) error {
	if ev == nil {
		return nil
	}
	return f.write(models.EventBidderRegistered, ev)
}

// PublishBidderRemoved 发布竞价者移除事件
func (f *FilePublisher) PublishBidderRemoved(ev *models.RemoveBidderEvent) error {
	if ev == nil {
		return nil
	}
	return f.write(models.EventBidderRemoved, ev)
}

// PublishAuctionClosed 发布拍卖关闭事件
func (f *FilePublisher) PublishAuctionClosed(ev *models.CloseAuctionEvent) error {
	if ev == nil {
		return nil
	}
	return f.write(models.EventAuctionClosed, ev)
}

// PublishTransfer 发布转账指令事件
func (f *FilePublisher) PublishTransfer(ti *models.TransferInstruction) error {
	if ti == nil {
		return nil
	}
	return f.write(models.EventTransferIssued, ti)
}

// Close 关闭所有事件文件
func (f *FilePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for eventType, file := range f.files {
		if err := file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭事件文件 %s 失败: %w", eventType, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("关闭事件文件时发生错误: %v", errs)
	}
	return nil
}

// MemoryPublisher 内存发布器（测试用）
type MemoryPublisher struct {
	mu         sync.Mutex
	Registered []*models.RegisterAuctionEvent
	Bidders    []*models.RegisterBidderEvent
	Removed    []*models.RemoveBidderEvent
	Closed     []*models.CloseAuctionEvent
	Transfers  []*models.TransferInstruction
}

// NewMemoryPublisher 创建内存发布器
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// PublishAuctionRegistered 记录拍卖注册事件
func (m *MemoryPublisher) PublishAuctionRegistered(ev *models.RegisterAuctionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Registered = append(m.Registered, ev)
	return nil
}

// PublishBidderRegistered 记录竞价者注册事件
func (m *MemoryPublisher) PublishBidderRegistered(ev *models.RegisterBidderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bidders = append(m.Bidders, ev)
	return nil
}

// PublishBidderRemoved 记录竞价者移除事件
func (m *MemoryPublisher) PublishBidderRemoved(ev *models.RemoveBidderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Removed = append(m.Removed, ev)
	return nil
}

// PublishAuctionClosed 记录拍卖关闭事件
func (m *MemoryPublisher) PublishAuctionClosed(ev *models.CloseAuctionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = append(m.Closed, ev)
	return nil
}

// PublishTransfer 记录转账指令事件
func (m *MemoryPublisher) PublishTransfer(ti *models.TransferInstruction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transfers = append(m.Transfers, ti)
	return nil
}

// Close 无操作
func (m *MemoryPublisher) Close() error {
	return nil
}
