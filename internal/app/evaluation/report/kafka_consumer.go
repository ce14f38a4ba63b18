package report

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"

	"geolink.local/internal/app/evaluation"
)

// Applier 是批量落库的能力，生产上是 StatusRepo。
// Ping 用来区分"库挂了"和"这一条本身写不进去"。
type Applier interface {
	Apply(ctx context.Context, reports []evaluation.Report) error
	Ping(ctx context.Context) error
}

// messageReader 是 kafka.Reader 用到的那部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer 攒批写库，写成功后才提交 offset（至少一次；Apply 按 run_id 幂等）。
// 一批没处理完之前不再往批里加消息，内存里最多 batchSize 条加上通道缓冲。
type KafkaConsumer struct {
	reader       messageReader
	sink         Applier
	batchSize    int
	interval     time.Duration
	batchRetries int
	retryInitial time.Duration
	retryMax     time.Duration
}

func NewKafkaConsumer(brokers []string, topic string, sink Applier) *KafkaConsumer {
	return newKafkaConsumer(kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  "evaluation-report-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	}), sink)
}

func newKafkaConsumer(r messageReader, sink Applier) *KafkaConsumer {
	return &KafkaConsumer{
		reader:       r,
		sink:         sink,
		batchSize:    100,
		interval:     time.Second,
		batchRetries: 3,
		retryInitial: 500 * time.Millisecond,
		retryMax:     30 * time.Second,
	}
}

// fetched.skip 表示解不出来的坏消息：不写库，只跟着批次一起提交。
// 不能单独提交，否则会越过前面还没落库的 offset。
type fetched struct {
	msg    kafka.Message
	report evaluation.Report
	skip   bool
}

func (k *KafkaConsumer) Run(ctx context.Context) {
	batch := make([]fetched, 0, k.batchSize)
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	msgCh := make(chan fetched, k.batchSize)

	go func() {
		defer close(msgCh)
		for {
			msg, err := k.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("report consumer: fetch failed", "err", err)
				continue
			}

			f := fetched{msg: msg}
			if err := json.Unmarshal(msg.Value, &f.report); err != nil || f.report.RunID == "" {
				slog.Error("report consumer: bad message", "err", err, "partition", msg.Partition, "offset", msg.Offset)
				f.skip = true
			}
			select {
			case msgCh <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			k.flushOnce(batch)
			return

		case f, ok := <-msgCh:
			if !ok {
				k.flushOnce(batch)
				return
			}
			batch = append(batch, f)
			if len(batch) >= k.batchSize {
				k.settle(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				k.settle(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// settle 阻塞到这一批全部落库（或确认是写不进去的坏数据）并提交为止，期间不读新消息。
// 整批连续失败 batchRetries 次后逐条写：库是好的但某条写不进去，记日志后跳过它；
// 库挂了就留着剩下的继续退避重试。ctx 取消时放弃，未提交的消息重启后会重新投递。
func (k *KafkaConsumer) settle(ctx context.Context, batch []fetched) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = k.retryInitial
	bo.MaxInterval = k.retryMax

	pending := batch
	for failures := 0; len(pending) > 0; {
		var err error
		if failures < k.batchRetries {
			err = k.applyBatch(ctx, pending)
			if err == nil {
				return
			}
			failures++
			slog.Error("report consumer: apply failed", "err", err, "count", len(pending), "failures", failures)
		} else {
			pending = k.applyEach(ctx, pending)
			if len(pending) == 0 {
				return
			}
		}

		select {
		case <-ctx.Done():
			slog.Warn("report consumer: giving up on pending batch", "count", len(pending))
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// flushOnce 退出前尽量写一次，失败就不提交。
func (k *KafkaConsumer) flushOnce(batch []fetched) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := k.applyBatch(ctx, batch); err != nil {
		slog.Error("report consumer: final flush failed", "err", err, "count", len(batch))
	}
}

// applyBatch 整批写库，成功后提交整批 offset。
func (k *KafkaConsumer) applyBatch(ctx context.Context, batch []fetched) error {
	actx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	reports := make([]evaluation.Report, 0, len(batch))
	for _, f := range batch {
		if !f.skip {
			reports = append(reports, f.report)
		}
	}
	if err := k.sink.Apply(actx, reports); err != nil {
		return err
	}
	k.commit(actx, batch)
	slog.Debug("report consumer: flushed", "count", len(batch))
	return nil
}

// applyEach 逐条写，返回库不可用时还没处理的那一段；之前的部分已提交。
func (k *KafkaConsumer) applyEach(ctx context.Context, batch []fetched) []fetched {
	actx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for i, f := range batch {
		if f.skip {
			continue
		}
		err := k.sink.Apply(actx, []evaluation.Report{f.report})
		if err == nil {
			continue
		}
		if perr := k.sink.Ping(actx); perr != nil {
			slog.Error("report consumer: sink unavailable", "err", perr, "pending", len(batch)-i)
			k.commit(actx, batch[:i])
			return batch[i:]
		}
		slog.Error("report consumer: dropping report that cannot be applied",
			"err", err,
			"run_id", f.report.RunID,
			"workflow_id", f.report.WorkflowID,
			"link_id", f.report.Params.LinkID,
			"partition", f.msg.Partition,
			"offset", f.msg.Offset,
		)
	}
	k.commit(actx, batch)
	return nil
}

func (k *KafkaConsumer) commit(ctx context.Context, batch []fetched) {
	if len(batch) == 0 {
		return
	}
	msgs := make([]kafka.Message, 0, len(batch))
	for _, f := range batch {
		msgs = append(msgs, f.msg)
	}
	if err := k.reader.CommitMessages(ctx, msgs...); err != nil {
		slog.Error("report consumer: commit failed", "err", err)
	}
}

func (k *KafkaConsumer) Close() error {
	return k.reader.Close()
}
