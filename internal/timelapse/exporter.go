package timelapse

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// 書き出しのエラー
var (
	ErrUnsupportedFormat = errors.New("対応していない書き出し形式です")
	ErrNoFrames          = errors.New("セッションにフレームがありません")
)

// minGIFDelaySeconds はGIFの1フレームあたりの最短表示時間
const minGIFDelaySeconds = 0.1

// Exporter はセッションのフレーム列をGIFまたは動画に書き出す
//
// 状態を持たない。書き出し形式の登録は呼び出し元に返すセッションに対して行う。
type Exporter struct {
	cfg   ExportConfig
	video VideoEncoder
}

// NewExporter は新しいExporterを作成する。videoがnilならffmpegを使う
func NewExporter(cfg ExportConfig, video VideoEncoder) *Exporter {
	if video == nil {
		video = NewFFmpegEncoder(cfg.FFmpegPath, cfg.Quality)
	}
	return &Exporter{cfg: cfg, video: video}
}

// Supports は書き出し形式が許可されているかを返す
func (e *Exporter) Supports(format string) bool {
	for _, f := range e.cfg.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

// Formats は許可されている書き出し形式を返す
func (e *Exporter) Formats() []string {
	return append([]string(nil), e.cfg.Formats...)
}

// DefaultOutputPath は<base_path>/<session_id>.<fmt>を返す
func DefaultOutputPath(sess Session, format string) string {
	return filepath.Join(sess.BasePath, fmt.Sprintf("%s.%s", sess.SessionID, strings.ToLower(format)))
}

// Export はセッションを書き出し、出力先のパスを返す
//
// 成功した場合のみsessの書き出し済み形式に登録する。
func (e *Exporter) Export(ctx context.Context, sess *Session, format, outputPath string) (string, error) {
	format = strings.ToLower(format)
	if !e.Supports(format) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if len(sess.Frames) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoFrames, sess.SessionID)
	}

	if outputPath == "" {
		outputPath = DefaultOutputPath(*sess, format)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return "", fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}

	if format == FormatGIF {
		if err := e.exportGIF(ctx, sess, outputPath); err != nil {
			return "", err
		}
	} else {
		fps := ResolveFPS(sess.Interval, e.cfg.MaxFPS)
		if err := e.video.Encode(ctx, sess.FramePaths(), fps, format, outputPath); err != nil {
			return "", fmt.Errorf("動画の書き出しに失敗: %w", err)
		}
	}

	sess.RegisterExport(format)
	return outputPath, nil
}

// ResolveFPS は撮影間隔から書き出しのフレームレートを決める
//
// 1/interval を [1, maxFPS] に収める。間隔が0以下ならmaxFPS。
func ResolveFPS(interval int, maxFPS float64) float64 {
	if interval <= 0 {
		return maxFPS
	}
	fps := 1.0 / float64(interval)
	if fps < 1.0 {
		return 1.0
	}
	if fps > maxFPS {
		return maxFPS
	}
	return fps
}

// gifDelay はGIFのフレーム表示時間（1/100秒単位）を返す
func gifDelay(interval int) int {
	seconds := math.Max(float64(interval), minGIFDelaySeconds)
	return int(math.Round(seconds * 100))
}

func (e *Exporter) exportGIF(ctx context.Context, sess *Session, outputPath string) error {
	paths := sess.FramePaths()
	delay := gifDelay(sess.Interval)
	composer := NewFrameComposer()

	anim := &gif.GIF{
		Image:     make([]*image.Paletted, 0, len(paths)),
		Delay:     make([]int, 0, len(paths)),
		LoopCount: 0, // 無限ループ
	}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := composer.Compose(p)
		if err != nil {
			return fmt.Errorf("GIFの書き出しに失敗: %w", err)
		}
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, delay)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("出力ファイルの作成に失敗: %w", err)
	}
	if err := gif.EncodeAll(f, anim); err != nil {
		_ = f.Close()
		return fmt.Errorf("GIFのエンコードに失敗: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("出力ファイルの書き込みに失敗: %w", err)
	}
	return nil
}
