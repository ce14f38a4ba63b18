package report

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"geolink.local/internal/app/evaluation"
)

// KafkaPublisher 同步写入（RequireAll），返回 nil 才算上报成功；
// 消息 key 是 run_id，同一 run 的重放落在同一分区。
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (k *KafkaPublisher) Report(ctx context.Context, rep evaluation.Report) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rep.RunID),
		Value: data,
	})
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
