package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sealbid/internal/retry"
	"sealbid/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// KafkaPublisher Kafka事件发布器
type KafkaPublisher struct {
	logger   *logrus.Logger
	topics   map[string]string // 事件类型到topic的映射
	producer sarama.SyncProducer
	retrier  *retry.Retrier
}

// NewKafkaPublisher 创建Kafka事件发布器
func NewKafkaPublisher(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaPublisher, error) {
	logger.Infof("初始化Kafka事件发布器，brokers: %v", brokers)
	logger.Infof("Kafka topics配置: %v", topics)

	// 配置Kafka生产者
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	// 创建同步生产者
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")

	return &KafkaPublisher{
		logger:   logger,
		topics:   topics,
		producer: producer,
		retrier:  retry.NewRetrier(retry.NetworkRetryConfig, logger),
	}, nil
}

// sendToKafka 发送事件到Kafka，broker瞬时错误按退避策略重试
func (k *KafkaPublisher) sendToKafka(topic string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	// 创建Kafka消息
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(jsonData),
	}

	return k.retrier.Execute(context.Background(), "kafka_publish", func() error {
		partition, offset, err := k.producer.SendMessage(msg)
		if err != nil {
			return fmt.Errorf("发送消息到Kafka失败: %w", err)
		}

		k.logger.Infof("成功发送事件到Kafka topic '%s' (partition: %d, offset: %d): %s",
			topic, partition, offset, string(jsonData))
		return nil
	})
}

func (k *KafkaPublisher) topicFor(eventType string) string {
	topic, exists := k.topics[eventType]
	if !exists {
		topic = DefaultTopics[eventType]
	}
	return topic
}

// PublishAuctionRegistered 发布拍卖注册事件
func (k *KafkaPublisher) PublishAuctionRegistered(ev *models.RegisterAuctionEvent) error {
	if ev == nil {
		return nil
	}
	return k.sendToKafka(k.topicFor(models.EventAuctionRegistered), ev)
}

// PublishBidderRegistered 发布竞价者注册事件
func (k *KafkaPublisher) PublishBidderRegistered(ev *models.RegisterBidderEvent) error {
	if ev == nil {
		return nil
	}
	return k.sendToKafka(k.topicFor(models.EventBidderRegistered), ev)
}

// PublishBidderRemoved 发布竞价者移除事件
func (k *KafkaPublisher) PublishBidderRemoved(ev *models.RemoveBidderEvent) error {
	if ev == nil {
		return nil
	}
	return k.sendToKafka(k.topicFor(models.EventBidderRemoved), ev)
}

// PublishAuctionClosed 发布拍卖关闭事件
func (k *KafkaPublisher) PublishAuctionClosed(ev *models.CloseAuctionEvent) error {
	if ev == nil {
		return nil
	}
	return k.sendToKafka(k.topicFor(models.EventAuctionClosed), ev)
}

// PublishTransfer 发布转账指令事件
func (k *KafkaPublisher) PublishTransfer(ti *models.TransferInstruction) error {
	if ti == nil {
		return nil
	}
	return k.sendToKafka(k.topicFor(models.EventTransferIssued), ti)
}

// Close 关闭Kafka连接
func (k *KafkaPublisher) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
