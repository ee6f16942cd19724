package timelapse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// VideoEncoder はフレーム列を動画コンテナに書き出す
type VideoEncoder interface {
	Encode(ctx context.Context, framePaths []string, fps float64, format, outputPath string) error
}

// FFmpegEncoder はffmpegの標準入力へフレームを流し込んで動画を生成する
type FFmpegEncoder struct {
	path    string // ffmpeg実行ファイル
	quality int    // 品質 (1-5)
}

// NewFFmpegEncoder は新しいFFmpegEncoderを作成する
func NewFFmpegEncoder(path string, quality int) *FFmpegEncoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegEncoder{path: path, quality: quality}
}

// Encode はフレームを撮影順に書き出す
func (e *FFmpegEncoder) Encode(ctx context.Context, framePaths []string, fps float64, format, outputPath string) error {
	if len(framePaths) == 0 {
		return fmt.Errorf("画像ファイルがありません")
	}

	args := e.buildArgs(fps, format, outputPath)
	cmd := exec.CommandContext(ctx, e.path, args...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpegへの入力の作成に失敗: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	writeErr := e.writeFrames(stdin, framePaths)
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("動画作成に失敗: %w (output: %s)", err, strings.TrimSpace(output.String()))
	}
	if writeErr != nil {
		return writeErr
	}
	return nil
}

// writeFrames はフレームファイルの内容を順に書き込む
func (e *FFmpegEncoder) writeFrames(w io.Writer, framePaths []string) error {
	for _, p := range framePaths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("フレームの読み込みに失敗: %w", err)
		}
		_, err = io.Copy(w, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("ffmpegへのフレーム送信に失敗 (%s): %w", p, err)
		}
	}
	return nil
}

// buildArgs はコンテナ形式に応じたffmpeg引数を組み立てる
func (e *FFmpegEncoder) buildArgs(fps float64, format, outputPath string) []string {
	args := []string{
		"-y", // 上書き許可
		"-f", "image2pipe",
		"-framerate", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
	}

	switch strings.ToLower(format) {
	case "mp4", "mkv", "mov":
		args = append(args,
			"-c:v", "libx264",
			"-preset", "fast",
			"-crf", e.qualityToCRF(e.quality),
			"-pix_fmt", "yuv420p",
			// yuv420pは縦横が偶数である必要がある
			"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		)
	case "webm":
		args = append(args,
			"-c:v", "libvpx-vp9",
			"-crf", e.qualityToCRF(e.quality),
			"-b:v", "0",
			"-pix_fmt", "yuv420p",
		)
	case "avi":
		args = append(args,
			"-c:v", "mjpeg",
			"-q:v", "3",
		)
	}

	return append(args, outputPath)
}

// qualityToCRF は品質設定をFFmpegのCRF値に変換する
func (e *FFmpegEncoder) qualityToCRF(quality int) string {
	// 品質1(低) -> CRF28, 品質5(高) -> CRF18
	crf := 28.0 - float64(quality-1)*2.5
	if crf < 18 {
		crf = 18
	}
	if crf > 28 {
		crf = 28
	}
	return strconv.FormatFloat(crf, 'f', 1, 64)
}

// ValidateFFmpeg はFFmpegが利用可能かチェックする
func (e *FFmpegEncoder) ValidateFFmpeg(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.path, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("FFmpegが見つかりません。インストールしてください: %w", err)
	}

	return nil
}

// CheckVideoEncoder は動画形式の書き出しが許可されている場合にffmpegが使えるか確認する
//
// GIFのみなら外部コマンドを使わないため何もしない。
func CheckVideoEncoder(ctx context.Context, cfg ExportConfig) error {
	if !needsVideoEncoder(cfg.Formats) {
		return nil
	}
	return NewFFmpegEncoder(cfg.FFmpegPath, cfg.Quality).ValidateFFmpeg(ctx)
}

func needsVideoEncoder(formats []string) bool {
	for _, format := range formats {
		if !strings.EqualFold(format, FormatGIF) {
			return true
		}
	}
	return false
}
