package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultStream   = "eval:jobs:destination"
	defaultGroup    = "eval:workers:destination"
	defaultConsumer = "worker-1"

	fieldRunID = "run_id"
	batchSize  = 10
)

// Job 是 stream 里的一条消息。消息只带 run id，run 的状态以 Postgres 为准。
type Job struct {
	MessageID string
	RunID     int64
}

type StreamConfig struct {
	Stream   string
	Group    string
	Consumer string
}

// StreamQueue 基于 Redis Stream + consumer group：
// 读到的消息进 pending list，Ack 之前 worker 崩溃会被 Reclaim 交给别的 consumer。
type StreamQueue struct {
	rdb *redis.Client
	cfg StreamConfig
}

func NewStreamQueue(rdb *redis.Client, cfg StreamConfig) (*StreamQueue, error) {
	if rdb == nil {
		return nil, errors.New("jobqueue: nil redis client")
	}
	cfg.Stream = orDefault(cfg.Stream, defaultStream)
	cfg.Group = orDefault(cfg.Group, defaultGroup)
	cfg.Consumer = orDefault(cfg.Consumer, defaultConsumer)

	// 从 "0" 建组：group 创建前已经写进 stream 的消息也会被消费
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := rdb.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("jobqueue: create group %s: %w", cfg.Group, err)
	}
	return &StreamQueue{rdb: rdb, cfg: cfg}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (q *StreamQueue) Enqueue(ctx context.Context, runID int64) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: []any{fieldRunID, strconv.FormatInt(runID, 10)},
	}).Err()
}

// Read 阻塞最多 block，取本 consumer 的新消息。超时返回空切片。
func (q *StreamQueue) Read(ctx context.Context, block time.Duration) ([]Job, error) {
	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    batchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var jobs []Job
	for _, s := range streams {
		jobs = append(jobs, q.decode(ctx, s.Messages)...)
	}
	return jobs, nil
}

// Reclaim 接管 pending 超过 minIdle 的消息（原 consumer 大概率已经挂了）。
func (q *StreamQueue) Reclaim(ctx context.Context, minIdle time.Duration) ([]Job, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    batchSize,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q.decode(ctx, msgs), nil
}

func (q *StreamQueue) Ack(ctx context.Context, messageID string) error {
	return q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, messageID).Err()
}

// decode 解析 run_id。解析不了的消息直接 Ack 掉，否则会一直留在 pending list 被反复 Reclaim。
func (q *StreamQueue) decode(ctx context.Context, msgs []redis.XMessage) []Job {
	jobs := make([]Job, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values[fieldRunID].(string)
		runID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || runID <= 0 {
			slog.Warn("jobqueue: drop malformed message", "stream", q.cfg.Stream, "message_id", m.ID, "values", m.Values)
			if err := q.Ack(ctx, m.ID); err != nil {
				slog.Error("jobqueue: ack malformed message failed", "message_id", m.ID, "err", err)
			}
			continue
		}
		jobs = append(jobs, Job{MessageID: m.ID, RunID: runID})
	}
	return jobs
}
