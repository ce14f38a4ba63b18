package evaluation

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// Run 是一次评估的状态机。持久化由具体的执行底座负责，这里只校验迁移。
type Run struct {
	Params   Params
	State    State
	Attempts int
	Reason   string
}

func NewRun(p Params) *Run {
	return &Run{Params: p, State: StatePending}
}

// CanTransition 描述允许的迁移：
//
//	pending  -> checking | failed
//	checking -> checking（重试）| healthy | unhealthy | unreachable | failed
//	终态不再迁移
func CanTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateChecking || to == StateFailed
	case StateChecking:
		return to == StateChecking || to.Terminal()
	}
	return false
}

func (r *Run) Transition(to State) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
	}
	if to == StateChecking {
		r.Attempts++
	}
	r.State = to
	return nil
}

// BeginAttempt = Transition(StateChecking)，返回本次是第几次尝试。
func (r *Run) BeginAttempt() (int, error) {
	if err := r.Transition(StateChecking); err != nil {
		return 0, err
	}
	return r.Attempts, nil
}

// Finish 进入终态并记录原因。
func (r *Run) Finish(to State, reason string) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, to)
	}
	if err := r.Transition(to); err != nil {
		return err
	}
	r.Reason = reason
	return nil
}
