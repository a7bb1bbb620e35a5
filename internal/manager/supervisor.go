package manager

import (
	"log/slog"
	"time"

	"github.com/loykin/appvisor/internal/history"
	"github.com/loykin/appvisor/internal/metrics"
	"github.com/loykin/appvisor/internal/process"
)

// supervise waits for one run to end and reports it to the handler.
func supervise(h *handler, gen uint64, done <-chan struct{}) {
	<-done
	h.send(CtrlMsg{Type: ctrlExited, Gen: gen})
}

// onExit applies the restart policy to the run that just ended: relaunch
// after the fixed delay, or settle in stopped or errored.
func (h *handler) onExit() {
	spec := h.proc.Spec()
	st := h.proc.Snapshot()
	metrics.IncExit(spec.Name, st.ExitCode)
	metrics.ObserveUptime(spec.Name, st.Uptime.Seconds())

	d := spec.Policy.Next(h.proc.Restarts(), st.Uptime, h.proc.StopRequested())
	if d.Reset {
		h.proc.ResetRestarts()
	}

	switch {
	case d.Restart:
		n := h.proc.IncRestarts()
		h.proc.SetState(process.StateWaiting)
		metrics.IncRestart(spec.Name, metrics.CauseCrash)
		slog.Warn("App exited, restarting",
			"app", spec.Name, "exit_code", st.ExitCode, "error", st.ExitErr,
			"uptime", st.Uptime.Round(time.Millisecond), "restart", n, "max_restarts", spec.Policy.MaxRestarts,
			"delay", d.Delay)
		h.record(history.EventExit, h.proc.Snapshot(), d.Reason)
		h.scheduleRelaunch(d.Delay)
	case d.Exhausted():
		h.proc.SetState(process.StateErrored)
		metrics.IncErrored(spec.Name)
		slog.Error("App errored, not restarting",
			"app", spec.Name, "exit_code", st.ExitCode, "restarts", h.proc.Restarts(), "reason", d.Reason)
		h.record(history.EventExit, h.proc.Snapshot(), d.Reason)
		h.record(history.EventErrored, h.proc.Snapshot(), d.Reason)
	default:
		h.proc.SetState(process.StateStopped)
		slog.Info("App exited", "app", spec.Name, "exit_code", st.ExitCode, "reason", d.Reason)
		h.record(history.EventExit, h.proc.Snapshot(), d.Reason)
	}
}

func (h *handler) scheduleRelaunch(delay time.Duration) {
	h.cancelTimer()
	gen := h.gen
	h.timer = time.AfterFunc(delay, func() {
		h.send(CtrlMsg{Type: ctrlRelaunch, Gen: gen})
	})
}
