package timelapse

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func encodeTestPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func encodeTestJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

// fakeClock は手動で進める時計
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// manualTicker は発火しないTicker。テストではtick()を直接呼ぶ
type manualTicker struct {
	ch chan time.Time
}

func newManualTicker(time.Duration) Ticker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               {}

// fakeCapturer はHTTPを使わずにフレームファイルを書き込む
//
// blockがnilでなければ、キャプチャはblockから値を受け取るまで完了しない。
type fakeCapturer struct {
	mu      sync.Mutex
	calls   []CaptureTask
	fail    error
	block   chan struct{}
	started chan CaptureTask
	clock   func() time.Time
	data    []byte
}

func (f *fakeCapturer) Capture(ctx context.Context, task CaptureTask) CaptureResult {
	f.mu.Lock()
	f.calls = append(f.calls, task)
	fail := f.fail
	block := f.block
	started := f.started
	f.mu.Unlock()

	if started != nil {
		started <- task
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return CaptureResult{SessionID: task.SessionID, Filename: filepath.Base(task.Path), Err: ctx.Err()}
		}
	}

	result := CaptureResult{SessionID: task.SessionID, Filename: filepath.Base(task.Path)}
	if fail != nil {
		result.Err = fail
		return result
	}
	data := f.data
	if data == nil {
		data = []byte("frame")
	}
	if err := os.MkdirAll(filepath.Dir(task.Path), 0755); err != nil {
		result.Err = err
		return result
	}
	if err := os.WriteFile(task.Path, data, 0644); err != nil {
		result.Err = err
		return result
	}
	now := time.Now
	if f.clock != nil {
		now = f.clock
	}
	result.CapturedAt = normalizeTime(now())
	return result
}

func (f *fakeCapturer) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeCapturer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// waitFor は条件が満たされるまで待つ
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
