package recorder

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func requireBinary(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}

func TestExecLauncherCapturesExit(t *testing.T) {
	sh := requireBinary(t, "sh")
	core, logs := observer.New(zap.DebugLevel)
	l := NewExecLauncher(zap.New(core))

	p, err := l.Launch("evt1", sh, []string{"-c", "echo frame=1 >&2; exit 3"})
	require.NoError(t, err)
	assert.Positive(t, p.Pid())

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	var exitErr *exec.ExitError
	require.ErrorAs(t, p.Err(), &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())

	lines := logs.FilterMessage("ffmpeg").All()
	require.Len(t, lines, 1)
	assert.Equal(t, "frame=1", lines[0].ContextMap()["line"])
	assert.Equal(t, "evt1", lines[0].ContextMap()["event_id"])

	// signalling an exited process is harmless
	assert.NoError(t, p.Signal(os.Interrupt))
	assert.NoError(t, p.Kill())
}

func TestExecLauncherInterrupt(t *testing.T) {
	sleep := requireBinary(t, "sleep")
	l := NewExecLauncher(nil)

	p, err := l.Launch("evt1", sleep, []string{"30"})
	require.NoError(t, err)
	require.NoError(t, p.Signal(os.Interrupt))

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		_ = p.Kill()
		t.Fatal("process ignored interrupt")
	}
	assert.Error(t, p.Err())
}

func TestExecLauncherMissingBinary(t *testing.T) {
	l := NewExecLauncher(nil)
	_, err := l.Launch("evt1", "/nonexistent/ffmpeg", nil)
	assert.Error(t, err)
}
