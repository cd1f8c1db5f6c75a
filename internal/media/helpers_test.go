package media

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
)

// skipIfNoShell skips tests that replace ffmpeg/ffprobe with shell scripts.
func skipIfNoShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are shell scripts, skipping on windows")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found in PATH, skipping test")
	}
}

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH, skipping test")
	}
}

// writeScript writes an executable shell script and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("failed to write script %s: %v", name, err)
	}
	return path
}

// fakeTools is a scratch directory holding fake ffprobe/ffmpeg scripts and
// whatever they record about how they were called.
type fakeTools struct {
	dir string
}

func newFakeTools(t *testing.T) *fakeTools {
	t.Helper()
	skipIfNoShell(t)
	return &fakeTools{dir: t.TempDir()}
}

func (f *fakeTools) file(name string) string {
	return filepath.Join(f.dir, name)
}

// ffprobe returns a fake ffprobe printing stdout and exiting with code.
func (f *fakeTools) ffprobe(t *testing.T, stdout string, code int) string {
	t.Helper()
	body := fmt.Sprintf(`echo called >> '%s'
printf '%%s\n' '%s'
echo 'probe diagnostics' 1>&2
exit %d
`, f.file("ffprobe.calls"), stdout, code)
	return writeScript(t, f.dir, "ffprobe", body)
}

// ffmpegScript bodies share a prologue that records arguments and the manifest.
func (f *fakeTools) ffmpegPrologue() string {
	return fmt.Sprintf(`printf '%%s\n' "$@" > '%s'
cp "$6" '%s'
for last; do :; done
`, f.file("ffmpeg.args"), f.file("manifest.copy"))
}

// ffmpegSuccess emits progress on stderr and writes the output file.
func (f *fakeTools) ffmpegSuccess(t *testing.T) string {
	t.Helper()
	body := f.ffmpegPrologue() + `echo 'Input #0, concat, from list:' 1>&2
printf 'frame=   10 fps=0.0 q=-1.0 size=     256kB time=00:00:01.00 bitrate=N/A speed=2x\r' 1>&2
printf 'frame=   20 fps=0.0 q=-1.0 size=     512kB time=00:30:00.50 bitrate=N/A speed=2x\r' 1>&2
echo 'video:512kB audio:0kB'
printf 'data' > "$last"
exit 0
`
	return writeScript(t, f.dir, "ffmpeg", body)
}

// ffmpegFail writes a partial output and exits with code.
func (f *fakeTools) ffmpegFail(t *testing.T, code int) string {
	t.Helper()
	body := f.ffmpegPrologue() + fmt.Sprintf(`printf 'partial' > "$last"
echo 'Impossible to open input' 1>&2
exit %d
`, code)
	return writeScript(t, f.dir, "ffmpeg", body)
}

// ffmpegNoOutput exits cleanly without writing anything.
func (f *fakeTools) ffmpegNoOutput(t *testing.T) string {
	t.Helper()
	body := f.ffmpegPrologue() + `printf 'frame=1 time=00:00:01.00 speed=1x\r' 1>&2
exit 0
`
	return writeScript(t, f.dir, "ffmpeg", body)
}

// ffmpegHang reports progress then blocks until signalled.
func (f *fakeTools) ffmpegHang(t *testing.T) string {
	t.Helper()
	body := f.ffmpegPrologue() + `printf 'partial' > "$last"
printf 'frame=1 time=00:00:01.00 speed=1x\r' 1>&2
exec sleep 30
`
	return writeScript(t, f.dir, "ffmpeg", body)
}

func (f *fakeTools) called(name string) bool {
	_, err := os.Stat(f.file(name))
	return err == nil
}

func (f *fakeTools) args(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.file("ffmpeg.args"))
	if err != nil {
		t.Fatalf("ffmpeg was not called: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func (f *fakeTools) manifest(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.file("manifest.copy"))
	if err != nil {
		t.Fatalf("manifest was not captured: %v", err)
	}
	return string(data)
}

// recordingObserver collects everything an Extend call reports.
type recordingObserver struct {
	mu       sync.Mutex
	states   []State
	progress []ProgressEvent
	onProg   func(ProgressEvent)
}

func (r *recordingObserver) OnState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingObserver) OnProgress(ev ProgressEvent) {
	r.mu.Lock()
	r.progress = append(r.progress, ev)
	hook := r.onProg
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (r *recordingObserver) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recordingObserver) Progress() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressEvent(nil), r.progress...)
}

// createTestVideo creates a short test clip with solid color and silent audio.
func createTestVideo(t *testing.T, path string, duration float64) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=blue:s=64x64:r=25:d=%.1f", duration),
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=44100:cl=mono:d=%.1f", duration),
		"-c:v", "mpeg4",
		"-g", "1",
		"-c:a", "aac",
		"-shortest",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}
