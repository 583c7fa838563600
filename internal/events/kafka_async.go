package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"sealbid/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// AsyncKafkaPublisher 异步Kafka事件发布器
type AsyncKafkaPublisher struct {
	logger      *logrus.Logger
	topics      map[string]string
	producer    sarama.AsyncProducer
	successChan <-chan *sarama.ProducerMessage
	errorChan   <-chan *sarama.ProducerError
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// 统计信息
	sentCount  int64
	errorCount int64
	mu         sync.RWMutex
}

// NewAsyncKafkaPublisher 创建异步Kafka事件发布器
func NewAsyncKafkaPublisher(brokers []string, topics map[string]string, logger *logrus.Logger) (*AsyncKafkaPublisher, error) {
	logger.Infof("初始化异步Kafka事件发布器，brokers: %v", brokers)
	logger.Infof("Kafka topics配置: %v", topics)

	// 配置异步Kafka生产者
	config := sarama.NewConfig()

	// 异步生产者配置
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal // 更快的响应
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 3 * time.Second
	config.Version = sarama.V2_8_0_0

	// 性能优化配置
	config.Producer.Flush.Frequency = 100 * time.Millisecond // 批量发送频率
	config.Producer.Flush.Messages = 100                     // 批量发送消息数
	config.Producer.Flush.Bytes = 1024 * 1024                // 1MB批量大小
	config.Producer.Compression = sarama.CompressionSnappy   // 启用压缩

	// 缓冲区配置
	config.ChannelBufferSize = 1000 // 增大通道缓冲区

	// 创建异步生产者
	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建异步Kafka生产者失败: %w", err)
	}

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())

	asyncPublisher := &AsyncKafkaPublisher{
		logger:      logger,
		topics:      topics,
		producer:    producer,
		successChan: producer.Successes(),
		errorChan:   producer.Errors(),
		ctx:         ctx,
		cancel:      cancel,
	}

	// 启动后台处理goroutines
	asyncPublisher.startBackgroundHandlers()

	logger.Info("异步Kafka生产者已创建并启动")
	return asyncPublisher, nil
}

// startBackgroundHandlers 启动后台处理程序
func (k *AsyncKafkaPublisher) startBackgroundHandlers() {
	// 成功消息处理器
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.handleSuccesses()
	}()

	// 错误消息处理器
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.handleErrors()
	}()

	// 统计信息报告器
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.reportStats()
	}()
}

// handleSuccesses 处理成功发送的消息
func (k *AsyncKafkaPublisher) handleSuccesses() {
	for {
		select {
		case success := <-k.successChan:
			if success != nil {
				k.mu.Lock()
				k.sentCount++
				k.mu.Unlock()

				k.logger.Debugf("事件成功发送到 topic %s, partition %d, offset %d",
					success.Topic, success.Partition, success.Offset)
			}
		case <-k.ctx.Done():
			k.logger.Debug("成功消息处理器停止")
			return
		}
	}
}

// handleErrors 处理发送失败的消息
func (k *AsyncKafkaPublisher) handleErrors() {
	for {
		select {
		case err := <-k.errorChan:
			if err != nil {
				k.mu.Lock()
				k.errorCount++
				k.mu.Unlock()

				k.logger.Errorf("Kafka发送失败: topic=%s, partition=%d, offset=%d, error=%v",
					err.Msg.Topic, err.Msg.Partition, err.Msg.Offset, err.Err)
			}
		case <-k.ctx.Done():
			k.logger.Debug("错误消息处理器停止")
			return
		}
	}
}

// reportStats 定期报告统计信息
func (k *AsyncKafkaPublisher) reportStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.mu.RLock()
			sent := k.sentCount
			errors := k.errorCount
			k.mu.RUnlock()

			if sent > 0 || errors > 0 {
				successRate := float64(sent) / float64(sent+errors) * 100
				k.logger.Infof("Kafka统计: 已发送 %d 条事件, 失败 %d 条, 成功率 %.2f%%",
					sent, errors, successRate)
			}
		case <-k.ctx.Done():
			k.logger.Debug("统计报告器停止")
			return
		}
	}
}

// sendToKafkaAsync 异步发送事件到Kafka
func (k *AsyncKafkaPublisher) sendToKafkaAsync(topic string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	// 创建Kafka消息
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(jsonData),
	}

	// 异步发送消息
	select {
	case k.producer.Input() <- msg:
		// 消息已发送到输入通道
		return nil
	case <-k.ctx.Done():
		return fmt.Errorf("Kafka生产者已关闭")
	default:
		return fmt.Errorf("Kafka生产者输入通道已满")
	}
}

func (k *AsyncKafkaPublisher) topicFor(eventType string) string {
	topic, exists := k.topics[eventType]
	if !exists {
		topic = DefaultTopics[eventType]
	}
	return topic
}

// PublishAuctionRegistered 异步发布拍卖注册事件
func (k *AsyncKafkaPublisher) PublishAuctionRegistered(ev *models.RegisterAuctionEvent) error {
	if ev == nil {
		return nil
	}
	return k.sendToKafkaAsync(k.topicFor(models.EventAuctionRegistered), ev)
}

// PublishBidderRegistered 异步发布竞价者注册事件
func (k *AsyncKafkaPublisher) PublishBidderRegistered(ev *models.RegisterBidderEvent) error {
	if ev == nil {
		return nil
	}
	return k.sendToKafkaAsync(k.topicFor(models.EventBidderRegistered), ev)
}

// PublishBidderRemoved 异步发布竞价者移除事件
func (k *AsyncKafkaPublisher) PublishBidderRemoved(ev *models.RemoveBidderEvent) error {
	if ev == nil {
		return nil
	}
	return k.sendToKafkaAsync(k.topicFor(models.EventBidderRemoved), ev)
}

// PublishAuctionClosed 异步发布拍卖关闭事件
func (k *AsyncKafkaPublisher) PublishAuctionClosed(ev *models.CloseAuctionEvent) error {
	if ev == nil {
		return nil
	}
	return k.sendToKafkaAsync(k.topicFor(models.EventAuctionClosed), ev)
}

// PublishTransfer 异步发布转账指令事件
func (k *AsyncKafkaPublisher) PublishTransfer(ti *models.TransferInstruction) error {
	if ti == nil {
		return nil
	}
	return k.sendToKafkaAsync(k.topicFor(models.EventTransferIssued), ti)
}

// Flush 刷新所有缓冲的消息
func (k *AsyncKafkaPublisher) Flush() error {
	k.logger.Info("刷新Kafka生产者缓冲区...")

	// 等待一段时间让异步消息处理完成
	time.Sleep(1 * time.Second)

	// 检查是否还有待处理的消息
	k.mu.RLock()
	pending := len(k.producer.Input())
	k.mu.RUnlock()

	if pending > 0 {
		k.logger.Infof("等待 %d 条事件完成发送...", pending)

		// 等待所有消息发送完成
		timeout := time.After(30 * time.Second)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				k.mu.RLock()
				remaining := len(k.producer.Input())
				k.mu.RUnlock()

				if remaining == 0 {
					k.logger.Info("所有事件已发送完成")
					return nil
				}
			case <-timeout:
				k.logger.Warn("刷新超时，部分事件可能未发送完成")
				return fmt.Errorf("刷新超时")
			}
		}
	}

	k.logger.Info("缓冲区刷新完成")
	return nil
}

// GetStats 获取统计信息
func (k *AsyncKafkaPublisher) GetStats() (int64, int64) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.sentCount, k.errorCount
}

// Close 关闭异步Kafka连接
func (k *AsyncKafkaPublisher) Close() error {
	k.logger.Info("关闭异步Kafka生产者...")

	// 首先刷新缓冲区
	if err := k.Flush(); err != nil {
		k.logger.Warnf("刷新缓冲区时出现错误: %v", err)
	}

	// 取消上下文，停止后台goroutines
	k.cancel()

	// 关闭生产者
	if err := k.producer.Close(); err != nil {
		k.logger.Errorf("关闭Kafka生产者失败: %v", err)
		return err
	}

	// 等待所有goroutines完成
	k.wg.Wait()

	// 最终统计信息
	sent, errors := k.GetStats()
	k.logger.Infof("异步Kafka生产者已关闭，总计发送: %d，错误: %d", sent, errors)

	return nil
}
