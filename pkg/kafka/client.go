// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"rag-chat-go/internal/config"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/tasks"
)

// MaxAttempts 是一个清理任务在提交 offset 放弃之前最多被处理的次数。
const MaxAttempts = 3

// RetryBackoff 是两次重试之间的基础等待时间，按已失败次数线性增长。
var RetryBackoff = 2 * time.Second

// TaskProcessor defines the interface for any service that can process a cleanup task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DocumentCleanupTask) error
}

// AttemptCounter 记录每个任务的失败次数，通常由 Redis 实现。
type AttemptCounter interface {
	Incr(ctx context.Context, taskKey string) (int64, error)
	Reset(ctx context.Context, taskKey string) error
}

// CleanupPublisher 是投递清理任务的抽象，便于在业务层替换为测试实现。
type CleanupPublisher interface {
	PublishCleanup(ctx context.Context, task tasks.DocumentCleanupTask) error
}

// Producer 向清理主题写入任务。
type Producer struct {
	writer *kafka.Writer
}

func brokerList(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:                  cfg.CleanupTopic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// PublishCleanup 发送一个清理任务，以文档 ID 作为消息键。
func (p *Producer) PublishCleanup(ctx context.Context, task tasks.DocumentCleanupTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentID),
		Value: taskBytes,
	}); err != nil {
		return fmt.Errorf("publish cleanup task %s: %w", task.DocumentID, err)
	}
	return nil
}

// Close 刷新并关闭底层 writer。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是 kafka.Reader 在消费循环中用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StartConsumer 启动一个 Kafka 消费者来处理清理任务，直到 ctx 被取消。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg.Brokers),
		Topic:    cfg.CleanupTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.CleanupTopic)
	consume(ctx, r, processor, attempts)
}

func attemptsKey(task tasks.DocumentCleanupTask) string {
	return fmt.Sprintf("kafka:attempts:%s", task.DocumentID)
}

func consume(ctx context.Context, r messageReader, processor TaskProcessor, attempts AttemptCounter) {
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("Kafka 消费者收到退出信号")
				return
			}
			// 暂时性故障（broker 不可达、重平衡等），等待后继续拉取
			log.Error("从 Kafka 读取消息失败，稍后重试", err)
			if !sleep(ctx, RetryBackoff) {
				return
			}
			continue
		}

		var task tasks.DocumentCleanupTask
		if err := json.Unmarshal(m.Value, &task); err != nil || task.DocumentID == "" {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		log.Infof("开始处理清理任务: document_id=%s, reason=%s", task.DocumentID, task.Reason)
		handle(ctx, r, m, task, processor, attempts)
	}
}

// handle 处理单条任务，直到成功、达到 MaxAttempts 或 ctx 被取消才返回。
// 失败次数优先记录在 Redis 中，因此进程重启后仍会累计；Redis 不可用时退回到本地计数。
// kafka-go 不会在同一会话内重新投递未提交的消息，所以这里不能跳过当前消息去拉取下一条。
func handle(ctx context.Context, r messageReader, m kafka.Message, task tasks.DocumentCleanupTask, processor TaskProcessor, attempts AttemptCounter) {
	var local int64
	for {
		err := processor.Process(ctx, task)
		if err == nil {
			log.Infof("清理任务处理成功: document_id=%s", task.DocumentID)
			if err := attempts.Reset(ctx, attemptsKey(task)); err != nil {
				log.Warnf("清理失败计数出错: %v", err)
			}
			commit(ctx, r, m)
			return
		}
		if ctx.Err() != nil {
			return
		}

		local++
		log.Errorf("处理清理任务失败: document_id=%s, 第 %d 次, Error: %v", task.DocumentID, local, err)
		n, incErr := attempts.Incr(ctx, attemptsKey(task))
		if incErr != nil {
			log.Warnf("记录失败次数出错，使用本地计数: %v", incErr)
		}
		n = max(n, local)
		if n >= MaxAttempts {
			log.Errorf("清理任务多次失败(>=%d)，提交 offset 终止重试: document_id=%s", MaxAttempts, task.DocumentID)
			commit(ctx, r, m)
			return
		}

		if !sleep(ctx, RetryBackoff*time.Duration(n)) {
			return
		}
	}
}

// sleep 等待 d，ctx 先结束时返回 false。
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func commit(ctx context.Context, r messageReader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
