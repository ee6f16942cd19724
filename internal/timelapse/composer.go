package timelapse

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	_ "image/gif"  // フレーム形式としてGIFを許可
	_ "image/jpeg" // フレーム形式としてJPEGを許可
	_ "image/png"  // フレーム形式としてPNGを許可
	"os"
)

// FrameComposer はフレーム画像をアニメーション用に揃える
type FrameComposer struct {
	bounds image.Rectangle // 出力サイズ。最初のフレームで決まる
}

// NewFrameComposer は新しいFrameComposerを作成する
func NewFrameComposer() *FrameComposer {
	return &FrameComposer{}
}

// Compose はフレーム画像を読み込み、パレット画像に変換する
//
// 2枚目以降は最初のフレームのサイズに合わせて拡大縮小する。
func (fc *FrameComposer) Compose(path string) (*image.Paletted, error) {
	img, err := decodeFrame(path)
	if err != nil {
		return nil, err
	}

	if fc.bounds.Empty() {
		size := img.Bounds().Size()
		fc.bounds = image.Rect(0, 0, size.X, size.Y)
	}
	if fc.bounds.Empty() {
		return nil, fmt.Errorf("フレームの画像サイズが不正です: %s", path)
	}

	var src image.Image = img
	if img.Bounds().Size() != fc.bounds.Size() {
		scaled := image.NewRGBA(fc.bounds)
		fc.drawImageAt(scaled, img, fc.bounds)
		src = scaled
	}

	dst := image.NewPaletted(fc.bounds, palette.Plan9)
	draw.FloydSteinberg.Draw(dst, fc.bounds, src, src.Bounds().Min)
	return dst, nil
}

// drawImageAt は指定した領域に画像を描画する（ニアレストネイバー法でリサイズ）
func (fc *FrameComposer) drawImageAt(dst *image.RGBA, src image.Image, rect image.Rectangle) {
	srcBounds := src.Bounds()
	srcWidth := srcBounds.Dx()
	srcHeight := srcBounds.Dy()
	width := rect.Dx()
	height := rect.Dy()

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// ソース画像の対応する座標を計算
			srcX := x * srcWidth / width
			srcY := y * srcHeight / height
			dst.Set(rect.Min.X+x, rect.Min.Y+y, src.At(srcBounds.Min.X+srcX, srcBounds.Min.Y+srcY))
		}
	}
}

// decodeFrame はフレーム画像を読み込む
func decodeFrame(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("フレームの読み込みに失敗: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("フレームのデコードに失敗 (%s): %w", path, err)
	}
	return img, nil
}
