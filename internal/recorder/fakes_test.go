package recorder

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/sports-dvr/backend/internal/models"
	"github.com/sports-dvr/backend/pkg/queue"
)

type fakeProcess struct {
	pid          int
	exitOnSignal bool
	done         chan struct{}
	once         sync.Once

	mu      sync.Mutex
	signals []os.Signal
	killed  bool
	killErr error
	err     error
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, exitOnSignal: true, done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	exit := p.exitOnSignal
	p.mu.Unlock()
	if exit {
		p.exit(errors.New("signal: interrupt"))
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	killErr := p.killErr
	p.mu.Unlock()
	if killErr != nil {
		return killErr
	}
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) failKill(err error) {
	p.mu.Lock()
	p.killErr = err
	p.mu.Unlock()
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) snapshot() (signals []os.Signal, killed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...), p.killed
}

type launchCall struct {
	eventID string
	path    string
	args    []string
}

type fakeLauncher struct {
	mu      sync.Mutex
	calls   []launchCall
	procs   []*fakeProcess
	err     error
	ignore  bool // processes ignore SIGINT
	entered chan struct{}
	release chan struct{}
}

func (l *fakeLauncher) Launch(eventID, path string, args []string) (Process, error) {
	if l.entered != nil {
		l.entered <- struct{}{}
	}
	if l.release != nil {
		<-l.release
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, launchCall{eventID: eventID, path: path, args: args})
	if l.err != nil {
		return nil, l.err
	}
	p := newFakeProcess(1000 + len(l.procs))
	p.exitOnSignal = !l.ignore
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func (l *fakeLauncher) proc(i int) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[i]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []models.Recording
}

func (n *recordingNotifier) RecordingChanged(rec models.Recording) {
	n.mu.Lock()
	n.changes = append(n.changes, rec)
	n.mu.Unlock()
}

func (n *recordingNotifier) statuses(eventID string) []models.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.Status
	for _, r := range n.changes {
		if r.EventID != eventID {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != r.Status {
			out = append(out, r.Status)
		}
	}
	return out
}

type fakeArchiveQueue struct {
	mu   sync.Mutex
	jobs []queue.ArchiveUploadPayload
}

func (q *fakeArchiveQueue) EnqueueArchiveUpload(_ context.Context, p queue.ArchiveUploadPayload) error {
	q.mu.Lock()
	q.jobs = append(q.jobs, p)
	q.mu.Unlock()
	return nil
}

func (q *fakeArchiveQueue) payloads() []queue.ArchiveUploadPayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.ArchiveUploadPayload(nil), q.jobs...)
}
