package recorder

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"
)

// FreeSpaceFunc reports the free bytes on the filesystem holding path.
type FreeSpaceFunc func(ctx context.Context, path string) (uint64, error)

// DiskFreeSpace reads filesystem usage with gopsutil.
func DiskFreeSpace(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// checkFreeSpace returns ErrInsufficientSpace when the output root has less
// than MinFreeBytes available. A failed probe is logged and not enforced.
func (svc *Service) checkFreeSpace(ctx context.Context, eventID string) error {
	if svc.cfg.MinFreeBytes == 0 {
		return nil
	}
	if err := os.MkdirAll(svc.cfg.OutputRoot, 0o755); err != nil {
		return fmt.Errorf("create output root: %w", err)
	}
	free, err := svc.cfg.FreeSpace(ctx, svc.cfg.OutputRoot)
	if err != nil {
		svc.log.Warn("disk usage probe failed", zap.String("path", svc.cfg.OutputRoot), zap.Error(err))
		return nil
	}
	if free < svc.cfg.MinFreeBytes {
		svc.log.Warn("not enough disk space to record",
			zap.String("event_id", eventID),
			zap.Uint64("free_bytes", free),
			zap.Uint64("min_free_bytes", svc.cfg.MinFreeBytes),
		)
		return fmt.Errorf("%w: %d bytes free, %d required", ErrInsufficientSpace, free, svc.cfg.MinFreeBytes)
	}
	return nil
}
