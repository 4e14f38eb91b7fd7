package alerting

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the hysteresis state of one (pool, metric) signal.
type State uint8

const (
	StateNormal State = iota
	StateAlerting
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateAlerting:
		return "alerting"
	default:
		return "unknown"
	}
}

// Transition is the outcome of one evaluation.
type Transition uint8

const (
	// TransitionNone: normal and below threshold.
	TransitionNone Transition = iota
	// TransitionBreach: normal -> alerting.
	TransitionBreach
	// TransitionRealert: still alerting and the cooldown elapsed.
	TransitionRealert
	// TransitionSuppressed: still alerting inside the cooldown.
	TransitionSuppressed
	// TransitionRecovery: alerting -> normal.
	TransitionRecovery
)

func (t Transition) String() string {
	switch t {
	case TransitionNone:
		return "none"
	case TransitionBreach:
		return "breach"
	case TransitionRealert:
		return "realert"
	case TransitionSuppressed:
		return "suppressed"
	case TransitionRecovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// Notifies reports whether the transition produces a notification.
func (t Transition) Notifies() bool {
	return t == TransitionBreach || t == TransitionRealert || t == TransitionRecovery
}

// Signal is the alert state of one metric of one pool. The zero value is
// Normal. lastFiredAt is set exactly while the state is Alerting.
type Signal struct {
	state       State
	lastFiredAt time.Time
}

// State returns the current state.
func (s *Signal) State() State {
	return s.state
}

// LastFiredAt returns when the last breach notification fired; ok is false while Normal.
func (s *Signal) LastFiredAt() (time.Time, bool) {
	if s.state != StateAlerting {
		return time.Time{}, false
	}
	return s.lastFiredAt, true
}

// Evaluate advances the signal for one tick. A change whose magnitude reaches
// threshold breaches; falling strictly below it recovers. While alerting,
// repeat notifications are held back until cooldown has elapsed since the last one.
func (s *Signal) Evaluate(change, threshold decimal.Decimal, cooldown time.Duration, now time.Time) Transition {
	breaching := change.Abs().GreaterThanOrEqual(threshold)

	switch s.state {
	case StateAlerting:
		if !breaching {
			s.state = StateNormal
			s.lastFiredAt = time.Time{}
			return TransitionRecovery
		}
		if now.Sub(s.lastFiredAt) >= cooldown {
			s.lastFiredAt = now
			return TransitionRealert
		}
		return TransitionSuppressed
	default:
		if !breaching {
			return TransitionNone
		}
		s.state = StateAlerting
		s.lastFiredAt = now
		return TransitionBreach
	}
}
