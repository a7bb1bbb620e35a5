package process

import "time"

// State is the supervision state of an app.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateOnline   State = "online"
	StateStopping State = "stopping"
	// StateWaiting means the app exited and a relaunch is scheduled after the restart delay.
	StateWaiting State = "waiting-restart"
	// StateErrored means the restart ceiling was reached; only a manual start or reset revives it.
	StateErrored State = "errored"
)

// States lists every state, in display order.
var States = []State{StateStopped, StateStarting, StateOnline, StateStopping, StateWaiting, StateErrored}

// Status is a snapshot of one supervised app.
type Status struct {
	Name       string        `json:"name"`
	State      State         `json:"state"`
	PID        int           `json:"pid"`
	StartedAt  time.Time     `json:"started_at"`
	StoppedAt  time.Time     `json:"stopped_at"`
	Uptime     time.Duration `json:"uptime"`
	ExitCode   int           `json:"exit_code"`
	ExitErr    string        `json:"exit_error,omitempty"`
	Restarts   int           `json:"restarts"`
	Entrypoint string        `json:"entrypoint"`
	Watching   bool          `json:"watching"`
	CPUPercent float64       `json:"cpu_percent,omitempty"`
	MemoryRSS  uint64        `json:"memory_rss,omitempty"`
}

// Running reports whether the app has a live child.
func (s Status) Running() bool { return s.State == StateOnline || s.State == StateStopping }
