package pstate

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// State is the manager's recovery lifecycle, modeled as an explicit enum
// rather than silent no-ops: operations outside READY fail by contract.
type State int

const (
	StateInit State = iota
	StateRecovering
	StateReady
	StateRecoverError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRecovering:
		return "RECOVERING"
	case StateReady:
		return "READY"
	case StateRecoverError:
		return "RECOVER_ERROR"
	default:
		return "UNKNOWN"
	}
}

// errNotReady is returned by any operation gated on StateReady.
type errNotReady struct {
	topicPartition string
	state          State
}

func (e *errNotReady) Error() string {
	return "pstate: " + e.topicPartition + ": not ready, state is " + e.state.String()
}

// lifecycle owns the recovery state machine. It is embedded in
// StateManager rather than exported standalone, since its transitions are
// driven entirely by StateManager.Recover.
type lifecycle struct {
	mu             sync.Mutex
	state          State
	topicPartition string
	log            Logger
}

func newLifecycle(topicPartition string, log Logger) *lifecycle {
	return &lifecycle{state: StateInit, topicPartition: topicPartition, log: log}
}

func (l *lifecycle) get() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) requireReady() error {
	if s := l.get(); s != StateReady {
		return &errNotReady{topicPartition: l.topicPartition, state: s}
	}
	return nil
}

// transitionTo moves the state machine forward, logging the edge. It never
// validates the edge itself — recoverOnce is the only caller and it always
// drives INIT/RECOVERING forward in order.
func (l *lifecycle) transitionTo(s State) {
	l.mu.Lock()
	from := l.state
	l.state = s
	l.mu.Unlock()
	l.log.With(map[string]any{"from": from.String(), "to": s.String(), "topic_partition": l.topicPartition}).Infof("pstate: lifecycle transition")
}

// recoverOnce runs fn (the actual recovery work) exactly once per terminal
// outcome, giving recover() an idempotent contract:
//
//	INIT            -> RECOVERING, then READY or RECOVER_ERROR
//	READY           -> immediate success
//	RECOVER_ERROR   -> immediate failure
//	RECOVERING      -> programmer error: recover() is not reentrant
func (l *lifecycle) recoverOnce(ctx context.Context, fn func(context.Context) error) error {
	switch l.get() {
	case StateReady:
		return nil
	case StateRecoverError:
		return errors.WithMessage(ErrRecoveryFailed, l.topicPartition+": recovery previously failed, terminal until restart")
	case StateRecovering:
		return &IllegalStateError{Op: "Recover", Reason: "recovery already in progress"}
	}

	l.transitionTo(StateRecovering)
	if err := fn(ctx); err != nil {
		l.transitionTo(StateRecoverError)
		return errors.WithMessage(err, l.topicPartition+": recovery failed")
	}
	l.transitionTo(StateReady)
	return nil
}
