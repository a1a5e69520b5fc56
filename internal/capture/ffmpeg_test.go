package capture

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"parley/internal/ports"
)

func TestFFMPEGCaptureDeliversFrames(t *testing.T) {
	t.Parallel()

	// Four little-endian float32 samples of 1.0, then hold the pipe open.
	script := writeScript(t, "capture.sh",
		"#!/usr/bin/env bash\nprintf '\\x00\\x00\\x80\\x3f%.0s' 1 2 3 4\nsleep 2\n")
	capture := NewFFMPEG(script, "pulse")

	session, err := capture.Start(context.Background(), ports.CaptureConfig{SampleRate: 40})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Stop()

	if got := session.SampleRate(); got != 40 {
		t.Fatalf("unexpected sample rate: %d", got)
	}

	select {
	case frame := <-session.Frames():
		if len(frame) != 4 {
			t.Fatalf("unexpected frame length: %d", len(frame))
		}
		for i, sample := range frame {
			if sample != 1.0 {
				t.Fatalf("sample %d = %v, want 1.0", i, sample)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestFFMPEGCaptureStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'boom' 1>&2\nexit 1\n")
	capture := NewFFMPEG(script, "pulse")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := capture.Start(ctx, ports.CaptureConfig{})
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFFMPEGCaptureReportsStreamFailure(t *testing.T) {
	t.Parallel()

	// The stream dies mid-capture with diagnostics on stderr.
	script := writeScript(t, "die.sh",
		"#!/usr/bin/env bash\nsleep 0.4\necho 'device vanished' 1>&2\nexit 1\n")
	capture := NewFFMPEG(script, "pulse")

	session, err := capture.Start(context.Background(), ports.CaptureConfig{SampleRate: 40})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Stop()

	select {
	case _, ok := <-session.Frames():
		if ok {
			t.Fatal("expected frames channel to close without frames")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel never closed")
	}

	if errText := session.Err(); errText == nil || !strings.Contains(errText.Error(), "device vanished") {
		t.Fatalf("unexpected session error: %v", errText)
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-lc", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func TestTrimSpaceSafe(t *testing.T) {
	t.Parallel()

	if got := trimSpaceSafe("  hi\n"); got != "hi" {
		t.Fatalf("unexpected trim result: %q", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
