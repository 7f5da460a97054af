package poller

import "strconv"

// State is a position in the reset/incremental poll cycle.
type State int

const (
	StateReset       State = 0 // clear list and cache, then search
	StateIncremental State = 1 // search and reconcile against the known set
)

func (s State) String() string {
	switch {
	case s == StateReset:
		return "reset"
	case s >= StateIncremental:
		return "incremental"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Action is what a tick should do.
type Action int

const (
	ActionReset Action = iota
	ActionIncremental
	ActionSkip
	ActionReinit
)

func (a Action) String() string {
	switch a {
	case ActionReset:
		return "reset"
	case ActionIncremental:
		return "incremental"
	case ActionSkip:
		return "skip"
	case ActionReinit:
		return "reinit"
	default:
		return "unknown"
	}
}

// Step is the decision for a single tick.
type Step struct {
	Action     Action
	State      State // state whose handler runs; meaningful for reset/incremental
	ErrorCount int
}

// StateMachine is the round-robin poll scheduler with consecutive-error
// back-off. It is not safe for concurrent use.
type StateMachine struct {
	current     State
	maxState    State
	reinitEvery int
	errorCount  int
	failed      bool
}

// NewStateMachine returns a machine starting at StateReset. maxState below 1
// is raised to 1 and reinitEvery below 1 to 1.
func NewStateMachine(maxState, reinitEvery int) *StateMachine {
	if maxState < 1 {
		maxState = 1
	}
	if reinitEvery < 1 {
		reinitEvery = 1
	}
	return &StateMachine{
		maxState:    State(maxState),
		reinitEvery: reinitEvery,
	}
}

// Next decides the current tick. While the previous poll is failing, every
// reinitEvery-th tick reinitialises the upstream session and all others are
// skipped without searching. Otherwise the current state's handler runs and
// the machine advances, wrapping to StateReset after maxState.
func (m *StateMachine) Next() Step {
	if m.failed {
		m.errorCount++
		if m.errorCount%m.reinitEvery == 0 {
			return Step{Action: ActionReinit, State: m.current, ErrorCount: m.errorCount}
		}
		return Step{Action: ActionSkip, State: m.current, ErrorCount: m.errorCount}
	}

	step := Step{Action: ActionIncremental, State: m.current, ErrorCount: m.errorCount}
	if m.current == StateReset {
		step.Action = ActionReset
	}
	m.current++
	if m.current > m.maxState {
		m.current = StateReset
	}
	return step
}

// RecordSuccess marks the last poll as successful and clears the error count.
func (m *StateMachine) RecordSuccess() {
	m.failed = false
	m.errorCount = 0
}

// RecordFailure marks the last poll as failed. The following ticks back off.
func (m *StateMachine) RecordFailure() {
	m.failed = true
}

// ReinitSucceeded lets the next tick poll again. The error count is kept
// until a poll succeeds, so a still-broken source keeps backing off on the
// same schedule.
func (m *StateMachine) ReinitSucceeded() {
	m.failed = false
}

// ForceReset makes the next polling tick a full reset.
func (m *StateMachine) ForceReset() {
	m.current = StateReset
}

func (m *StateMachine) State() State    { return m.current }
func (m *StateMachine) ErrorCount() int { return m.errorCount }
func (m *StateMachine) Failing() bool   { return m.failed }
func (m *StateMachine) MaxState() State { return m.maxState }
