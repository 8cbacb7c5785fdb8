package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	playlistName   = "stream.m3u8"
	dirStampLayout = "20060102_150405"
	maxDirAttempts = 100
)

// SanitizeName keeps ASCII letters, digits, '-' and '_' and replaces every
// other rune with '_'. An empty result becomes "event".
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "event"
	}
	return b.String()
}

// outputLayout describes where one recording writes its files.
type outputLayout struct {
	Dir          string
	DirName      string
	HLSPath      string
	MP4Path      string
	TimeshiftURL string
}

// createOutputDir creates <root>/<safe>_<stamp>, appending _<n> when the
// directory already exists.
func createOutputDir(root, safeName string, startedAt time.Time, timeshiftPrefix string) (outputLayout, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return outputLayout{}, fmt.Errorf("create output root: %w", err)
	}

	base := safeName + "_" + startedAt.Format(dirStampLayout)
	for i := 0; i < maxDirAttempts; i++ {
		name := base
		if i > 0 {
			name = base + "_" + strconv.Itoa(i)
		}
		dir := filepath.Join(root, name)
		err := os.Mkdir(dir, 0o755)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return outputLayout{}, fmt.Errorf("create output dir: %w", err)
		}
		return outputLayout{
			Dir:          dir,
			DirName:      name,
			HLSPath:      filepath.Join(dir, playlistName),
			MP4Path:      filepath.Join(dir, safeName+".mp4"),
			TimeshiftURL: strings.TrimRight(timeshiftPrefix, "/") + "/" + name + "/" + playlistName,
		}, nil
	}
	return outputLayout{}, fmt.Errorf("create output dir: no free name for %s", base)
}

// buildArgs returns the ffmpeg arguments for a dual-output capture: an HLS
// playlist that keeps every segment plus an MP4 archive bounded by duration.
func buildArgs(streamURL string, opts []string, segmentSec int, hlsPath, mp4Path string, durationSec int) []string {
	args := make([]string, 0, 16+2*len(opts))
	args = append(args, "-i", streamURL)
	args = append(args, opts...)
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSec),
		"-hls_list_size", "0",
		"-hls_flags", "append_list+omit_endlist",
		hlsPath,
	)
	args = append(args, opts...)
	args = append(args, "-t", strconv.Itoa(durationSec), mp4Path)
	return args
}
