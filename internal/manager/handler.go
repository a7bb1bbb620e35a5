package manager

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/loykin/appvisor/internal/history"
	"github.com/loykin/appvisor/internal/metrics"
	"github.com/loykin/appvisor/internal/process"
	"github.com/loykin/appvisor/internal/watch"
)

// CtrlType enumerates control message kinds handled by handler.
type CtrlType int

const (
	CtrlStart CtrlType = iota
	CtrlStop
	CtrlRestart
	CtrlReset
	CtrlUpdateSpec
	CtrlShutdown
	// sent by the supervisor and the restart timer
	ctrlExited
	ctrlRelaunch
)

// CtrlMsg is a control-plane message sent to a handler to serialize lifecycle ops.
type CtrlMsg struct {
	Type  CtrlType
	Spec  process.Spec
	Cause string // restart cause, see metrics.Cause*
	Path  string // file that triggered a watch restart
	Gen   uint64
	Reply chan error
}

// recorder persists lifecycle events; provided by Manager.
type recorder func(typ history.EventType, st process.Status, reason string)

// handler owns the lifecycle of one app. Every state change happens on the
// run goroutine; gen identifies the current launch so exits and timers of
// superseded launches are ignored.
type handler struct {
	proc   *process.Process
	ctrl   chan CtrlMsg
	done   chan struct{}
	envFor func(process.Spec) ([]string, error)
	record recorder

	gen         uint64
	timer       *time.Timer
	watchCancel context.CancelFunc
	ctx         context.Context
}

func newHandler(spec process.Spec, envFor func(process.Spec) ([]string, error), rec recorder) *handler {
	return &handler{
		proc:   process.New(spec),
		ctrl:   make(chan CtrlMsg, 16),
		done:   make(chan struct{}),
		envFor: envFor,
		record: rec,
	}
}

func (h *handler) run(ctx context.Context) {
	defer close(h.done)
	h.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case msg := <-h.ctrl:
			var err error
			switch msg.Type {
			case CtrlStart:
				err = h.start()
			case CtrlStop:
				err = h.stop()
			case CtrlRestart:
				err = h.restart(msg.Cause, msg.Path)
			case CtrlReset:
				h.reset()
			case CtrlUpdateSpec:
				h.update(msg.Spec)
			case CtrlShutdown:
				h.shutdown()
				if msg.Reply != nil {
					msg.Reply <- nil
				}
				return
			case ctrlExited:
				if msg.Gen == h.gen {
					h.onExit()
				}
			case ctrlRelaunch:
				if msg.Gen == h.gen {
					h.record(history.EventRestart, h.proc.Snapshot(), "")
					_ = h.launch()
				}
			}
			if msg.Reply != nil {
				msg.Reply <- err
			}
		}
	}
}

// call sends msg and waits for the reply.
func (h *handler) call(msg CtrlMsg) error {
	msg.Reply = make(chan error, 1)
	select {
	case h.ctrl <- msg:
	case <-h.done:
		return ErrShuttingDown
	}
	select {
	case err := <-msg.Reply:
		return err
	case <-h.done:
		return ErrShuttingDown
	}
}

// send delivers msg without waiting for a reply.
func (h *handler) send(msg CtrlMsg) {
	select {
	case h.ctrl <- msg:
	case <-h.done:
	}
}

func (h *handler) start() error {
	if h.proc.Alive() {
		return nil
	}
	h.cancelTimer()
	if h.proc.Snapshot().State == process.StateErrored {
		h.proc.ResetRestarts()
	}
	return h.launch()
}

// launch starts a new run and hands its exit to a supervisor goroutine.
// A launch that fails is treated like an immediate crash.
func (h *handler) launch() error {
	h.gen++
	gen := h.gen
	spec := h.proc.Spec()

	env, err := h.envFor(spec)
	var done <-chan struct{}
	if err != nil {
		h.proc.LaunchFailed(err)
	} else {
		done, err = h.proc.Start(env)
	}
	if err != nil {
		slog.Error("Failed to start app", "app", spec.Name, "error", err)
		h.onExit()
		return err
	}

	st := h.proc.Snapshot()
	slog.Info("App started", "app", spec.Name, "pid", st.PID, "entrypoint", st.Entrypoint, "restarts", st.Restarts)
	metrics.IncStart(spec.Name)
	h.record(history.EventStart, st, "")
	h.ensureWatch(spec)
	go supervise(h, gen, done)
	return nil
}

func (h *handler) stop() error {
	h.cancelTimer()
	h.stopWatch()
	h.gen++
	if !h.proc.Alive() {
		if st := h.proc.Snapshot().State; st != process.StateStopped {
			h.proc.SetState(process.StateStopped)
			h.record(history.EventStop, h.proc.Snapshot(), "stop requested")
		}
		return nil
	}
	err := h.proc.Stop()
	h.proc.SetState(process.StateStopped)
	st := h.proc.Snapshot()
	metrics.IncExit(st.Name, st.ExitCode)
	metrics.ObserveUptime(st.Name, st.Uptime.Seconds())
	slog.Info("App stopped", "app", st.Name, "pid", st.PID, "exit", st.ExitErr)
	h.record(history.EventStop, st, "stop requested")
	return err
}

// restart replaces the current run. Manual and watch restarts do not count
// against max_restarts.
func (h *handler) restart(cause, path string) error {
	spec := h.proc.Spec()
	if h.proc.Alive() {
		h.gen++
		if err := h.proc.Stop(); err != nil {
			slog.Warn("Stop before restart failed", "app", spec.Name, "error", err)
		}
		st := h.proc.Snapshot()
		metrics.IncExit(st.Name, st.ExitCode)
		metrics.ObserveUptime(st.Name, st.Uptime.Seconds())
	}
	h.cancelTimer()
	if h.proc.Snapshot().State == process.StateErrored {
		h.proc.ResetRestarts()
	}
	metrics.IncRestart(spec.Name, cause)
	typ, reason := history.EventRestart, cause
	if cause == metrics.CauseWatch {
		typ, reason = history.EventWatch, path
		slog.Info("Change detected, restarting", "app", spec.Name, "path", path)
	}
	h.record(typ, h.proc.Snapshot(), reason)
	return h.launch()
}

func (h *handler) reset() {
	h.proc.ResetRestarts()
	if h.proc.Snapshot().State == process.StateErrored {
		h.proc.SetState(process.StateStopped)
	}
}

func (h *handler) update(spec process.Spec) {
	old := h.proc.Spec()
	h.proc.UpdateSpec(spec)
	if old.Watch != spec.Watch || !slices.Equal(old.WatchPaths, spec.WatchPaths) || !slices.Equal(old.IgnoreWatch, spec.IgnoreWatch) {
		h.stopWatch()
		if h.proc.Alive() {
			h.ensureWatch(spec)
		}
	}
}

func (h *handler) shutdown() {
	if h.proc.Alive() {
		_ = h.stop()
	} else {
		h.cancelTimer()
		h.stopWatch()
		h.gen++
	}
	if err := h.proc.Close(); err != nil {
		slog.Warn("Failed to close app logs", "app", h.proc.Name(), "error", err)
	}
}

func (h *handler) cancelTimer() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

func (h *handler) ensureWatch(spec process.Spec) {
	if !spec.Watch || h.watchCancel != nil || len(spec.WatchPaths) == 0 {
		return
	}
	w, err := watch.New(spec.WatchPaths, spec.IgnoreWatch, 0)
	if err != nil {
		slog.Warn("Watch disabled", "app", spec.Name, "error", err)
		return
	}
	parent := h.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	h.watchCancel = cancel
	h.proc.SetWatching(true)
	go func() {
		if err := w.Run(ctx, func(path string) {
			h.send(CtrlMsg{Type: CtrlRestart, Cause: metrics.CauseWatch, Path: path})
		}); err != nil {
			slog.Warn("Watcher stopped", "app", spec.Name, "error", err)
		}
	}()
}

func (h *handler) stopWatch() {
	if h.watchCancel != nil {
		h.watchCancel()
		h.watchCancel = nil
		h.proc.SetWatching(false)
	}
}
