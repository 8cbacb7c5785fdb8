package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sports-dvr/backend/internal/realtime"
	"github.com/sports-dvr/backend/pkg/queue"
	"github.com/sports-dvr/backend/pkg/storage"
)

// ErrPermanent marks a job that must not be retried.
var ErrPermanent = errors.New("permanent job failure")

// Uploader stores archive files.
type Uploader interface {
	ArchiveBucket() string
	ObjectSize(ctx context.Context, bucket, key string) (int64, error)
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// JobQueue is the consumer side of the archive queue.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
	DeadLetter(ctx context.Context, job *queue.Job) error
}

// Publisher announces upload outcomes to other processes.
type Publisher interface {
	PublishEvent(eventID, event string, payload interface{}) error
}

// ArchiveResult is published after an upload attempt finishes for good.
type ArchiveResult struct {
	EventID string `json:"event_id"`
	Key     string `json:"s3_key,omitempty"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ArchiveProcessor uploads finished recordings to object storage.
type ArchiveProcessor struct {
	store     Uploader
	queue     JobQueue
	publisher Publisher
	logger    *zap.Logger
	backoff   time.Duration
}

// NewArchiveProcessor creates an archive upload processor.
func NewArchiveProcessor(store Uploader, q JobQueue, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{store: store, queue: q, logger: logger, backoff: queue.RetryBackoff}
}

// SetPublisher enables archive.uploaded / archive.failed notifications.
func (p *ArchiveProcessor) SetPublisher(pub Publisher) { p.publisher = pub }

// Process executes one archive upload job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeArchiveUpload {
		return fmt.Errorf("%w: unknown job type %s", ErrPermanent, job.Type)
	}
	var payload queue.ArchiveUploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("%w: unmarshal payload: %v", ErrPermanent, err)
	}

	f, err := os.Open(payload.ArchivePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: archive missing: %s", ErrPermanent, payload.ArchivePath)
		}
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}

	bucket := p.store.ArchiveBucket()
	key := storage.ArchiveKey(payload.EventID, payload.ArchivePath)
	if size, err := p.store.ObjectSize(ctx, bucket, key); err == nil && size == info.Size() {
		p.logger.Info("archive already uploaded", zap.String("event_id", payload.EventID), zap.String("s3_key", key))
		return nil
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.logger.Debug("head archive", zap.String("s3_key", key), zap.Error(err))
	}

	url, err := p.store.Upload(ctx, bucket, key, storage.ContentTypeForFilename(payload.ArchivePath), f, info.Size())
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("archive upload completed",
		zap.String("event_id", payload.EventID),
		zap.String("status", payload.Status),
		zap.String("s3_key", key),
		zap.String("url", url),
		zap.Int64("bytes", info.Size()),
	)
	p.publish(realtime.EventArchiveUploaded, ArchiveResult{EventID: payload.EventID, Key: key, URL: url})
	return nil
}

func (p *ArchiveProcessor) publish(event string, res ArchiveResult) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishEvent(res.EventID, event, res); err != nil {
		p.logger.Warn("publish archive event", zap.String("event", event), zap.Error(err))
	}
}

func eventIDOf(job *queue.Job) string {
	var payload queue.ArchiveUploadPayload
	_ = json.Unmarshal(job.Payload, &payload)
	return payload.EventID
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, queue.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		err = p.Process(ctx, job)
		switch {
		case err == nil:
		case errors.Is(err, ErrPermanent):
			p.logger.Error("job failed permanently", zap.String("job_id", job.ID), zap.Error(err))
			if dlErr := p.queue.DeadLetter(ctx, job); dlErr != nil {
				p.logger.Error("dead letter failed", zap.Error(dlErr))
			}
			p.publish(realtime.EventArchiveFailed, ArchiveResult{EventID: eventIDOf(job), Error: err.Error()})
		default:
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			if job.Attempt >= queue.MaxRetries {
				p.publish(realtime.EventArchiveFailed, ArchiveResult{EventID: eventIDOf(job), Error: err.Error()})
			}
			p.sleep(ctx)
		}
	}
}

func (p *ArchiveProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
