package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/appvisor/internal/metrics"
)

// ErrNotRunning is returned by Kill when there is no live child.
var ErrNotRunning = errors.New("process not running")

// Process is one supervised child. The exported methods are safe for
// concurrent use; lifecycle decisions are made by the caller.
type Process struct {
	name     string
	mu       sync.Mutex
	spec     Spec
	cmd      *exec.Cmd
	done     chan struct{}
	status   Status
	restarts int
	stopReq  bool
	outW     io.WriteCloser
	errW     io.WriteCloser
	logsOpen bool
}

// New returns a stopped process for spec.
func New(spec Spec) *Process {
	return &Process{
		name:   spec.Name,
		spec:   spec,
		status: Status{Name: spec.Name, State: StateStopped, Entrypoint: spec.Entrypoint()},
	}
}

// Name returns the app name, fixed at construction.
func (p *Process) Name() string { return p.name }

// Spec returns the current spec.
func (p *Process) Spec() Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spec
}

// UpdateSpec replaces the spec used for the next launch. A running child is
// not affected. Log writers reopen on the next start when the log
// configuration changed.
func (p *Process) UpdateSpec(spec Spec) {
	p.mu.Lock()
	if spec.Log != p.spec.Log {
		p.closeWritersLocked()
	}
	p.spec = spec
	p.status.Entrypoint = spec.Entrypoint()
	p.mu.Unlock()
}

// ConfigureCmd builds the command for the next launch: working directory,
// environment, process group and log writers.
func (p *Process) ConfigureCmd(env []string) *exec.Cmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := p.spec.BuildCommand()
	cmd.Dir = p.spec.WorkDir
	cmd.Env = env
	cmd.SysProcAttr = sysProcAttr()
	if !p.logsOpen && p.spec.Log.Enabled() {
		p.outW, p.errW = p.spec.Log.Writers(p.name)
		p.logsOpen = true
	}
	if p.outW != nil {
		cmd.Stdout = p.outW
	}
	if p.errW != nil {
		cmd.Stderr = p.errW
	}
	return cmd
}

// Start launches the child with the given environment and returns a channel
// closed when it exits. Starting a live process returns its current channel.
func (p *Process) Start(env []string) (<-chan struct{}, error) {
	if done := p.liveDone(); done != nil {
		return done, nil
	}
	p.mu.Lock()
	p.stopReq = false
	p.mu.Unlock()
	p.SetState(StateStarting)
	cmd := p.ConfigureCmd(env)
	if err := cmd.Start(); err != nil {
		p.LaunchFailed(err)
		return nil, fmt.Errorf("start %s: %w", p.name, err)
	}

	done := make(chan struct{})
	now := time.Now()
	p.mu.Lock()
	p.cmd = cmd
	p.done = done
	p.status = Status{
		Name:       p.name,
		State:      StateOnline,
		PID:        cmd.Process.Pid,
		StartedAt:  now,
		Restarts:   p.restarts,
		Entrypoint: p.spec.Entrypoint(),
		Watching:   p.status.Watching,
	}
	pidFile := p.spec.PIDFile
	p.mu.Unlock()
	metrics.SetState(p.name, string(StateOnline), stateNames())

	if pidFile != "" {
		if err := WritePIDFile(pidFile, cmd.Process.Pid); err != nil {
			slog.Warn("Failed to write pid file", "app", p.name, "path", pidFile, "error", err)
		}
	}
	go p.wait(cmd, done, pidFile)
	return done, nil
}

// LaunchFailed records a launch that never produced a child. The run counts
// as zero uptime so it cannot satisfy min_uptime.
func (p *Process) LaunchFailed(err error) {
	now := time.Now()
	p.mu.Lock()
	p.status.PID = 0
	p.status.StartedAt = now
	p.status.StoppedAt = now
	p.status.Uptime = 0
	p.status.ExitCode = -1
	p.status.ExitErr = err.Error()
	p.status.State = StateStopped
	name := p.name
	p.mu.Unlock()
	metrics.SetState(name, string(StateStopped), stateNames())
}

func (p *Process) wait(cmd *exec.Cmd, done chan struct{}, pidFile string) {
	err := cmd.Wait()
	p.mu.Lock()
	current := p.cmd == cmd
	if current {
		p.status.StoppedAt = time.Now()
		p.status.Uptime = p.status.StoppedAt.Sub(p.status.StartedAt)
		p.status.ExitCode = exitCode(err)
		p.status.ExitErr = errString(err)
		p.status.State = StateStopped
		p.status.CPUPercent = 0
		p.status.MemoryRSS = 0
	}
	p.mu.Unlock()
	if current {
		metrics.SetState(p.name, string(StateStopped), stateNames())
	}
	if pidFile != "" {
		RemovePIDFile(pidFile)
	}
	close(done)
}

func (p *Process) liveDone() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
		return p.done
	}
}

// Alive reports whether the child has been started and not yet reaped.
func (p *Process) Alive() bool { return p.liveDone() != nil }

// Done returns the exit channel of the most recent launch, or nil.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stop marks the process as stopping, sends SIGTERM to its process group and
// escalates to SIGKILL after the spec's kill timeout. It returns once the
// child has been reaped.
func (p *Process) Stop() error {
	p.mu.Lock()
	p.stopReq = true
	done, cmd, timeout := p.done, p.cmd, p.spec.EffectiveKillTimeout()
	if done == nil || cmd == nil || cmd.Process == nil {
		p.mu.Unlock()
		return nil
	}
	select {
	case <-done:
		p.mu.Unlock()
		return nil
	default:
	}
	p.status.State = StateStopping
	pid := cmd.Process.Pid
	p.mu.Unlock()

	if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
		slog.Debug("SIGTERM failed", "app", p.name, "pid", pid, "error", err)
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
	}
	slog.Warn("Kill timeout elapsed, sending SIGKILL", "app", p.name, "pid", pid, "timeout", timeout)
	_ = signalGroup(cmd, syscall.SIGKILL)
	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("stop %s: pid %d did not exit after SIGKILL", p.name, pid)
	}
}

// Kill sends SIGKILL to the process group without waiting.
func (p *Process) Kill() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil || !p.Alive() {
		return ErrNotRunning
	}
	return signalGroup(cmd, syscall.SIGKILL)
}

// StopRequested reports whether the last exit was asked for by Stop.
func (p *Process) StopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopReq
}

// SetState records a supervision state decided by the caller.
func (p *Process) SetState(s State) {
	p.mu.Lock()
	p.status.State = s
	name := p.name
	p.mu.Unlock()
	metrics.SetState(name, string(s), stateNames())
}

// SetWatching flags whether a file watcher is attached.
func (p *Process) SetWatching(on bool) {
	p.mu.Lock()
	p.status.Watching = on
	p.mu.Unlock()
}

// Restarts returns the restart counter.
func (p *Process) Restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

// IncRestarts bumps the restart counter and returns the new value.
func (p *Process) IncRestarts() int {
	p.mu.Lock()
	p.restarts++
	p.status.Restarts = p.restarts
	n, name := p.restarts, p.name
	p.mu.Unlock()
	metrics.SetRestartCount(name, n)
	return n
}

// ResetRestarts clears the restart counter.
func (p *Process) ResetRestarts() {
	p.mu.Lock()
	p.restarts = 0
	p.status.Restarts = 0
	name := p.name
	p.mu.Unlock()
	metrics.SetRestartCount(name, 0)
}

// Snapshot returns the current status. Uptime is live for a running child.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	st := p.status
	p.mu.Unlock()
	if st.Running() && !st.StartedAt.IsZero() {
		st.Uptime = time.Since(st.StartedAt)
	}
	return st
}

// SnapshotWithUsage is Snapshot plus CPU and memory of a live child.
func (p *Process) SnapshotWithUsage() Status {
	st := p.Snapshot()
	if !st.Running() || st.PID <= 0 {
		return st
	}
	if u, err := metrics.Sample(st.PID); err == nil {
		st.CPUPercent = u.CPUPercent
		st.MemoryRSS = u.MemoryRSS
	}
	return st
}

// Close releases the log writers. The child, if any, is left running.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeWritersLocked()
}

func (p *Process) closeWritersLocked() error {
	var errs []error
	if p.outW != nil {
		errs = append(errs, p.outW.Close())
	}
	if p.errW != nil {
		errs = append(errs, p.errW.Close())
	}
	p.outW, p.errW = nil, nil
	p.logsOpen = false
	return errors.Join(errs...)
}

func stateNames() []string {
	out := make([]string, len(States))
	for i, s := range States {
		out[i] = string(s)
	}
	return out
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
