package recorder

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// Process is a running capture process.
type Process interface {
	Pid() int
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// Err returns the exit error; only valid after Done is closed.
	Err() error
	Signal(sig os.Signal) error
	Kill() error
}

// Launcher starts capture processes.
type Launcher interface {
	Launch(eventID, path string, args []string) (Process, error)
}

// ExecLauncher runs the capture binary with os/exec and logs its stderr at debug level.
type ExecLauncher struct {
	log *zap.Logger
}

// NewExecLauncher returns a launcher backed by os/exec.
func NewExecLauncher(log *zap.Logger) *ExecLauncher {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecLauncher{log: log}
}

// Launch starts path with args. The process is not bound to any context; it runs
// until it exits on its own or is signalled.
func (l *ExecLauncher) Launch(eventID, path string, args []string) (Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdout = nil
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	log := l.log.With(zap.String("event_id", eventID), zap.Int("pid", cmd.Process.Pid))
	go func() {
		drainOutput(stderr, log)
		p.setErr(cmd.Wait())
		close(p.done)
	}()
	return p, nil
}

func drainOutput(r io.Reader, log *zap.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		log.Debug("ffmpeg", zap.String("line", scanner.Text()))
	}
	// keep reading so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu  sync.Mutex
	err error
}

func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *execProcess) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *execProcess) Signal(sig os.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Kill()
}
