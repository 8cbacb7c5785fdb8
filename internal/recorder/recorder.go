// Package recorder supervises ffmpeg capture processes. Each recording writes
// a time-shift HLS playlist and an MP4 archive into its own output directory.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sports-dvr/backend/internal/models"
	"github.com/sports-dvr/backend/pkg/queue"
)

const (
	defaultMaxConcurrent   = 2
	defaultSegmentSeconds  = 6
	defaultMonitorInterval = 10 * time.Second
	defaultStopTimeout     = 10 * time.Second
	defaultFFmpegPath      = "ffmpeg"
	defaultTimeshiftPrefix = "/recordings"
)

var (
	ErrCapacityExceeded  = errors.New("maximum concurrent recordings reached")
	ErrInvalidRequest    = errors.New("invalid recording request")
	ErrClosed            = errors.New("recorder is closed")
	ErrInsufficientSpace = errors.New("insufficient disk space")
)

// Notifier receives a snapshot after every change to a recording.
type Notifier interface {
	RecordingChanged(rec models.Recording)
}

// ArchiveQueue accepts finished archives for upload.
type ArchiveQueue interface {
	EnqueueArchiveUpload(ctx context.Context, p queue.ArchiveUploadPayload) error
}

// Config controls the supervisor. Zero values fall back to defaults.
type Config struct {
	OutputRoot      string
	MaxConcurrent   int
	FFmpegPath      string
	FFmpegOptions   []string
	SegmentSeconds  int
	TimeshiftPrefix string
	MonitorInterval time.Duration
	StopTimeout     time.Duration

	// MinFreeBytes refuses new recordings below this much free space; 0 disables.
	MinFreeBytes uint64
	// FreeSpace defaults to DiskFreeSpace.
	FreeSpace FreeSpaceFunc

	// Launcher defaults to an ExecLauncher.
	Launcher Launcher
	// Now defaults to time.Now.
	Now func() time.Time
}

// StartRequest describes a recording to start.
type StartRequest struct {
	EventID         string
	StreamURL       string
	EventName       string
	DurationMinutes int
}

// Service starts, tracks and stops recordings.
type Service struct {
	cfg   Config
	log   *zap.Logger
	store *store

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hookMu   sync.RWMutex
	notifier Notifier
	archives ArchiveQueue
}

// NewService creates a supervisor writing under cfg.OutputRoot.
func NewService(cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = os.TempDir()
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = defaultFFmpegPath
	}
	if cfg.SegmentSeconds < 1 {
		cfg.SegmentSeconds = defaultSegmentSeconds
	}
	if cfg.TimeshiftPrefix == "" {
		cfg.TimeshiftPrefix = defaultTimeshiftPrefix
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = defaultMonitorInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.Launcher == nil {
		cfg.Launcher = NewExecLauncher(log)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.FreeSpace == nil {
		cfg.FreeSpace = DiskFreeSpace
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:    cfg,
		log:    log,
		store:  newStore(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetNotifier sets the change listener (e.g. the realtime hub).
func (svc *Service) SetNotifier(n Notifier) {
	svc.hookMu.Lock()
	svc.notifier = n
	svc.hookMu.Unlock()
}

// SetArchiveQueue enables upload of finished archives.
func (svc *Service) SetArchiveQueue(q ArchiveQueue) {
	svc.hookMu.Lock()
	svc.archives = q
	svc.hookMu.Unlock()
}

// Start begins recording req.EventID. A request for an id that is already
// known returns the existing record unchanged. A process that fails to launch
// yields a failed record and a nil error.
func (svc *Service) Start(ctx context.Context, req StartRequest) (models.Recording, error) {
	if err := validate(req); err != nil {
		return models.Recording{}, err
	}

	startedAt := svc.cfg.Now()
	safe := SanitizeName(req.EventName)
	rec := models.Recording{
		EventID:         req.EventID,
		EventName:       req.EventName,
		SafeName:        safe,
		Status:          models.StatusStarting,
		StartedAt:       startedAt,
		DurationMinutes: req.DurationMinutes,
	}

	existing, err := svc.store.reserve(rec, svc.cfg.MaxConcurrent)
	if err != nil {
		return models.Recording{}, err
	}
	if existing != nil {
		svc.log.Warn("recording already exists", zap.String("event_id", req.EventID), zap.String("status", string(existing.Status)))
		return *existing, nil
	}

	if err := svc.checkFreeSpace(ctx, req.EventID); err != nil {
		svc.store.remove(req.EventID)
		return models.Recording{}, err
	}

	layout, err := createOutputDir(svc.cfg.OutputRoot, safe, startedAt, svc.cfg.TimeshiftPrefix)
	if err != nil {
		svc.store.remove(req.EventID)
		return models.Recording{}, err
	}

	rec, ok := svc.store.update(req.EventID, func(e *entry) {
		e.rec.OutputDir = layout.Dir
		e.rec.HLSPath = layout.HLSPath
		e.rec.MP4Path = layout.MP4Path
	})
	if !ok {
		return models.Recording{}, ErrClosed
	}
	svc.notify(rec)

	args := buildArgs(req.StreamURL, svc.cfg.FFmpegOptions, svc.cfg.SegmentSeconds,
		layout.HLSPath, layout.MP4Path, req.DurationMinutes*60)
	svc.log.Info("starting recording",
		zap.String("event_id", req.EventID),
		zap.String("event_name", req.EventName),
		zap.String("output_dir", layout.Dir),
		zap.String("command", svc.cfg.FFmpegPath+" "+strings.Join(args, " ")),
	)

	proc, launchErr := svc.cfg.Launcher.Launch(req.EventID, svc.cfg.FFmpegPath, args)
	if launchErr != nil {
		svc.log.Error("failed to start ffmpeg", zap.String("event_id", req.EventID), zap.Error(launchErr))
		rec, ok = svc.store.update(req.EventID, func(e *entry) {
			if models.CanTransition(e.rec.Status, models.StatusFailed) {
				now := svc.cfg.Now()
				e.rec.Status = models.StatusFailed
				e.rec.Error = launchErr.Error()
				e.rec.CompletedAt = &now
			}
		})
		if ok {
			svc.notify(rec)
		}
		return rec, nil
	}

	var (
		registered bool
		monitorCtx context.Context
	)
	rec, ok = svc.store.update(req.EventID, func(e *entry) {
		if svc.store.closed || e.stopping || e.rec.Status != models.StatusStarting {
			return
		}
		e.proc = proc
		e.rec.Status = models.StatusRecording
		e.rec.TimeshiftURL = layout.TimeshiftURL
		registered = true
		monitorCtx = svc.ctx
		svc.wg.Add(1)
	})
	if !registered {
		// stopped (or closed) while the process was launching
		svc.log.Info("recording stopped during launch", zap.String("event_id", req.EventID))
		if err := svc.terminate(ctx, req.EventID, proc); err != nil {
			svc.log.Error("terminate after launch", zap.String("event_id", req.EventID), zap.Error(err))
		}
		if !ok {
			return models.Recording{}, ErrClosed
		}
		return rec, nil
	}

	svc.log.Info("recording started", zap.String("event_id", req.EventID), zap.Int("pid", proc.Pid()))
	svc.notify(rec)
	go svc.monitor(monitorCtx, req.EventID, proc)
	return rec, nil
}

// Stop terminates the recording for eventID. Unknown ids and terminal records
// without a process are left untouched. If the process cannot be killed the
// record keeps its status and handle so a later Stop can retry.
func (svc *Service) Stop(ctx context.Context, eventID string) error {
	var (
		proc   Process
		active bool
	)
	svc.store.update(eventID, func(e *entry) {
		if e.rec.Status.Terminal() && e.proc == nil {
			return
		}
		e.stopping = true
		proc = e.proc
		active = true
	})
	if !active {
		return nil
	}

	var termErr error
	if proc != nil {
		termErr = svc.terminate(ctx, eventID, proc)
	}

	var changed bool
	rec, ok := svc.store.update(eventID, func(e *entry) {
		if termErr != nil {
			// still running; let the monitor record a natural exit
			e.stopping = false
			return
		}
		if e.proc == proc {
			e.proc = nil
		}
		if models.CanTransition(e.rec.Status, models.StatusStopped) {
			now := svc.cfg.Now()
			e.rec.Status = models.StatusStopped
			e.rec.CompletedAt = &now
			changed = true
		}
	})
	if termErr != nil {
		return fmt.Errorf("stop recording %s: %w", eventID, termErr)
	}
	if ok && changed {
		svc.log.Info("recording stopped", zap.String("event_id", eventID))
		svc.notify(rec)
		svc.enqueueArchive(ctx, rec)
	}
	return nil
}

// Get returns a snapshot of one recording.
func (svc *Service) Get(eventID string) (models.Recording, bool) {
	return svc.store.get(eventID)
}

// List returns snapshots of every recording in start order.
func (svc *Service) List() []models.Recording {
	return svc.store.list()
}

// ActiveCount counts recordings that are starting or recording.
func (svc *Service) ActiveCount() int {
	return svc.store.active()
}

// MaxConcurrent is the configured concurrency ceiling.
func (svc *Service) MaxConcurrent() int {
	return svc.cfg.MaxConcurrent
}

// StopAll stops every live recording, one at a time.
func (svc *Service) StopAll(ctx context.Context) error {
	var errs []error
	for _, id := range svc.store.liveIDs() {
		if err := svc.Stop(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops all recordings, waits for monitors to exit and forgets all state.
func (svc *Service) Close(ctx context.Context) error {
	svc.store.markClosed()
	err := svc.StopAll(ctx)
	svc.cancel()
	svc.wg.Wait()
	svc.store.clear()
	svc.log.Info("recorder closed")
	return err
}

// terminate asks the process to finish its outputs, then kills it after StopTimeout.
func (svc *Service) terminate(ctx context.Context, eventID string, proc Process) error {
	if err := proc.Signal(os.Interrupt); err != nil {
		svc.log.Debug("interrupt ffmpeg", zap.String("event_id", eventID), zap.Error(err))
	}

	timer := time.NewTimer(svc.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-proc.Done():
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	svc.log.Warn("ffmpeg did not exit, killing", zap.String("event_id", eventID))
	if err := proc.Kill(); err != nil {
		select {
		case <-proc.Done():
			return nil
		default:
		}
		return fmt.Errorf("kill ffmpeg: %w", err)
	}

	reap := time.NewTimer(svc.cfg.StopTimeout)
	defer reap.Stop()
	select {
	case <-proc.Done():
		return nil
	case <-reap.C:
		return fmt.Errorf("ffmpeg pid %d did not exit after kill", proc.Pid())
	}
}

func (svc *Service) notify(rec models.Recording) {
	svc.hookMu.RLock()
	n := svc.notifier
	svc.hookMu.RUnlock()
	if n != nil {
		n.RecordingChanged(rec)
	}
}

// enqueueArchive hands a finished MP4 to the upload queue when one is configured.
func (svc *Service) enqueueArchive(ctx context.Context, rec models.Recording) {
	svc.hookMu.RLock()
	q := svc.archives
	svc.hookMu.RUnlock()
	if q == nil || rec.MP4Path == "" {
		return
	}
	if _, err := os.Stat(rec.MP4Path); err != nil {
		svc.log.Debug("no archive to upload", zap.String("event_id", rec.EventID), zap.Error(err))
		return
	}
	p := queue.ArchiveUploadPayload{
		EventID:     rec.EventID,
		EventName:   rec.EventName,
		SafeName:    rec.SafeName,
		ArchivePath: rec.MP4Path,
		Status:      string(rec.Status),
	}
	if err := q.EnqueueArchiveUpload(context.WithoutCancel(ctx), p); err != nil {
		svc.log.Error("enqueue archive upload", zap.String("event_id", rec.EventID), zap.Error(err))
	}
}

func validate(req StartRequest) error {
	switch {
	case strings.TrimSpace(req.EventID) == "":
		return fmt.Errorf("%w: event_id is required", ErrInvalidRequest)
	case strings.TrimSpace(req.StreamURL) == "":
		return fmt.Errorf("%w: stream_url is required", ErrInvalidRequest)
	case strings.TrimSpace(req.EventName) == "":
		return fmt.Errorf("%w: event_name is required", ErrInvalidRequest)
	case req.DurationMinutes <= 0:
		return fmt.Errorf("%w: duration_minutes must be positive", ErrInvalidRequest)
	}
	return nil
}
