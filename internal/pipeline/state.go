package pipeline

import "streamworker/internal/telemetry"

// State is the consumer loop's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateProcessing
	StateCommitting
	StateDraining
	StateStopped
)

var stateNames = [...]string{"idle", "polling", "processing", "committing", "draining", "stopped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Serving reports whether the loop is consuming normally.
func (s State) Serving() bool {
	return s == StatePolling || s == StateProcessing || s == StateCommitting
}

func (l *Loop) setState(s State) {
	prev := State(l.state.Swap(int32(s)))
	if prev == s {
		return
	}
	telemetry.LoopState.WithLabelValues(prev.String()).Set(0)
	telemetry.LoopState.WithLabelValues(s.String()).Set(1)

	l.obsMu.Lock()
	obs := append([]func(State){}, l.observers...)
	l.obsMu.Unlock()
	for _, fn := range obs {
		fn(s)
	}
}

// State returns the current state. Safe for concurrent use.
func (l *Loop) State() State { return State(l.state.Load()) }

// OnStateChange registers fn to be called, on the loop goroutine, after
// every transition.
func (l *Loop) OnStateChange(fn func(State)) {
	l.obsMu.Lock()
	l.observers = append(l.observers, fn)
	l.obsMu.Unlock()
}
