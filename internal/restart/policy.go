package restart

import (
	"errors"
	"fmt"
	"time"
)

// Decision reasons reported by Policy.Next.
const (
	ReasonRestart   = "restart"
	ReasonStopped   = "stop requested"
	ReasonDisabled  = "autorestart disabled"
	ReasonExhausted = "max restarts reached"
)

// Policy is the restart policy of a supervised app: a flat ceiling on
// relaunch attempts with a fixed delay between them.
type Policy struct {
	AutoRestart  bool          `json:"autorestart"`
	MaxRestarts  int           `json:"max_restarts"`
	RestartDelay time.Duration `json:"restart_delay"`
	// MinUptime resets the restart counter for a run that stayed up at least
	// this long. Zero keeps the ceiling absolute.
	MinUptime time.Duration `json:"min_uptime,omitempty"`
}

// Decision is the outcome of consulting a Policy after an exit.
type Decision struct {
	Restart bool          `json:"restart"`
	Delay   time.Duration `json:"delay"`
	// Reset tells the caller to zero its restart counter before applying the decision.
	Reset  bool   `json:"reset"`
	Reason string `json:"reason"`
}

// Exhausted reports whether the decision gave up because the ceiling was reached.
func (d Decision) Exhausted() bool { return d.Reason == ReasonExhausted }

// Validate checks the numeric bounds of the policy.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("max_restarts must be >= 0, got %d", p.MaxRestarts))
	}
	if p.RestartDelay < 0 {
		errs = append(errs, fmt.Errorf("restart_delay must be >= 0, got %s", p.RestartDelay))
	}
	if p.MinUptime < 0 {
		errs = append(errs, fmt.Errorf("min_uptime must be >= 0, got %s", p.MinUptime))
	}
	return errors.Join(errs...)
}

// Next decides what to do after a run exits. restarts is the number of
// automatic relaunches already performed, uptime is how long the run lived.
func (p Policy) Next(restarts int, uptime time.Duration, stopRequested bool) Decision {
	if stopRequested {
		return Decision{Reason: ReasonStopped}
	}
	if !p.AutoRestart {
		return Decision{Reason: ReasonDisabled}
	}
	d := Decision{}
	if p.MinUptime > 0 && uptime >= p.MinUptime {
		d.Reset = true
		restarts = 0
	}
	if restarts >= p.MaxRestarts {
		d.Reason = ReasonExhausted
		return d
	}
	d.Restart = true
	d.Delay = p.RestartDelay
	d.Reason = ReasonRestart
	return d
}
