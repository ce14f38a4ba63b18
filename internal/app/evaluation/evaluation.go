package evaluation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"geolink.local/internal/app/georoute"
)

var ErrInvalidParams = errors.New("invalid evaluation params")

// Params 是一次目的地评估的输入，也是去重用的自然键：
// 同一个 (link, destination, account) 同一时间只允许一个未完成的 run。
type Params struct {
	LinkID         string `json:"link_id"`
	DestinationURL string `json:"destination_url"`
	AccountID      string `json:"account_id"`
}

func (p Params) Validate() error {
	if strings.TrimSpace(p.LinkID) == "" || len(p.LinkID) > 64 {
		return fmt.Errorf("%w: link_id is required", ErrInvalidParams)
	}
	if strings.TrimSpace(p.AccountID) == "" || len(p.AccountID) > 64 {
		return fmt.Errorf("%w: account_id is required", ErrInvalidParams)
	}
	if err := georoute.ValidateURL(p.DestinationURL); err != nil {
		return fmt.Errorf("%w: destination_url must be an absolute http(s) url", ErrInvalidParams)
	}
	return nil
}

// Normalized 返回规范化目的地之后的副本；URL 非法时原样保留，交给 Validate 报错。
func (p Params) Normalized() Params {
	if u, err := georoute.NormalizeURL(p.DestinationURL); err == nil {
		p.DestinationURL = u
	}
	return p
}

// Key 用长度前缀拼接，避免 ("a|b","c") 和 ("a","b|c") 撞键。
// 目的地按规范化形式参与，写法不同的同一地址落在同一个 key 上。
func (p Params) Key() string {
	p = p.Normalized()
	var b strings.Builder
	for _, part := range []string{p.LinkID, p.DestinationURL, p.AccountID} {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
		b.WriteByte(';')
	}
	return b.String()
}

// WorkflowID 是 Key 的稳定摘要，用作工作流实例 id（Temporal workflow id / streams 里的逻辑 id）。
func (p Params) WorkflowID() string {
	sum := sha256.Sum256([]byte(p.Key()))
	return "destination-eval/" + hex.EncodeToString(sum[:16])
}

type State string

const (
	StatePending     State = "pending"
	StateChecking    State = "checking"
	StateHealthy     State = "healthy"
	StateUnhealthy   State = "unhealthy"
	StateUnreachable State = "unreachable"
	StateFailed      State = "failed"
)

func (s State) Terminal() bool {
	switch s {
	case StateHealthy, StateUnhealthy, StateUnreachable, StateFailed:
		return true
	}
	return false
}

// Classification 是一次完成的探测给出的结论；它只描述目的地，不描述探测方式。
type Classification string

const (
	Healthy     Classification = "healthy"
	Unhealthy   Classification = "unhealthy"
	Unreachable Classification = "unreachable"
)

func (c Classification) State() State {
	switch c {
	case Healthy:
		return StateHealthy
	case Unhealthy:
		return StateUnhealthy
	case Unreachable:
		return StateUnreachable
	}
	return StateFailed
}

// Verdict 是一次探测的结果。Detail / StatusCode 只用于展示和排查。
type Verdict struct {
	Classification Classification `json:"classification"`
	Detail         string         `json:"detail,omitempty"`
	StatusCode     int            `json:"status_code,omitempty"`
	Attempt        int            `json:"attempt,omitempty"`
}

// Report 是终态结果，每个 run 只上报一次（消费方按 RunID 幂等）。
type Report struct {
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	Params     Params    `json:"params"`
	State      State     `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Attempts   int       `json:"attempts"`
	FinishedAt time.Time `json:"finished_at"`
}
