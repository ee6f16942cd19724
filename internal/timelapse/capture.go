package timelapse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen は本文の種類を推定するために先読みするバイト数
const sniffLen = 3072

// CaptureTask は1枚の静止画を取得して保存する作業単位
type CaptureTask struct {
	SessionID string
	ImageURL  string
	Path      string // 保存先（frames/frame_NNNNN.ext）
}

// CaptureResult はキャプチャの結果。Errがnilなら成功
type CaptureResult struct {
	SessionID  string
	Filename   string
	CapturedAt time.Time
	Err        error
}

// Capturer は静止画の取得を抽象化する
type Capturer interface {
	// Capture は失敗をpanicやエラー戻り値ではなく結果として返す
	Capture(ctx context.Context, task CaptureTask) CaptureResult
}

// HTTPCapturer はHTTP GETで静止画を取得するCapturer
type HTTPCapturer struct {
	client  *http.Client
	headers map[string]string
	now     func() time.Time
}

// NewHTTPCapturer は新しいHTTPCapturerを作成する
func NewHTTPCapturer(cfg RequestConfig) *HTTPCapturer {
	headers := cfg.Headers
	if headers == nil {
		headers = DefaultRequestHeaders()
	}
	return &HTTPCapturer{
		client:  &http.Client{Timeout: cfg.Timeout},
		headers: headers,
		now:     time.Now,
	}
}

// Capture は静止画を取得してファイルに保存する
func (c *HTTPCapturer) Capture(ctx context.Context, task CaptureTask) CaptureResult {
	result := CaptureResult{
		SessionID: task.SessionID,
		Filename:  filepath.Base(task.Path),
	}
	if err := c.fetch(ctx, task); err != nil {
		result.Err = err
		return result
	}
	result.CapturedAt = normalizeTime(c.now())
	return result
}

func (c *HTTPCapturer) fetch(ctx context.Context, task CaptureTask) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.ImageURL, nil)
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("画像の取得に失敗: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("画像の取得に失敗: HTTP %d", resp.StatusCode)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("レスポンスの読み込みに失敗: %w", err)
	}
	head = head[:n]

	if err := checkImageContentType(resp.Header.Get("Content-Type"), head); err != nil {
		return err
	}

	return writeFrameFile(task.Path, head, resp.Body)
}

// checkImageContentType はレスポンスが画像かを判定する
//
// Content-Typeに "image" を含まなければ失敗とする。本文が画像に見えない場合は警告だけ出す。
func checkImageContentType(contentType string, head []byte) error {
	if !strings.Contains(strings.ToLower(contentType), "image") {
		return fmt.Errorf("レスポンスが画像ではありません (Content-Type: %q)", contentType)
	}

	if len(head) > 0 {
		if detected := mimetype.Detect(head); !strings.HasPrefix(detected.String(), "image/") {
			log.Printf("警告: Content-Typeは画像ですが本文が画像に見えません (Content-Type: %s, 推定: %s)", contentType, detected.String())
		}
	}
	return nil
}

// writeFrameFile は一時ファイルに書き込んでから保存先にリネームする
func writeFrameFile(path string, head []byte, rest io.Reader) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("フレームディレクトリの作成に失敗: %w", err)
	}

	partPath := path + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("フレームファイルの作成に失敗: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(partPath)
		}
	}()

	if _, err = f.Write(head); err != nil {
		return fmt.Errorf("フレームの書き込みに失敗: %w", err)
	}
	if _, err = io.Copy(f, rest); err != nil {
		return fmt.Errorf("フレームの書き込みに失敗: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("フレームの書き込みに失敗: %w", err)
	}
	if err = os.Rename(partPath, path); err != nil {
		_ = os.Remove(partPath)
		return fmt.Errorf("フレームファイルの確定に失敗: %w", err)
	}
	return nil
}
