package timelapse

import (
	"runtime"
	"time"
)

// Status はセッションのステータス
type Status string

// Status の定数定義
const (
	StatusRecording Status = "recording" // 録画中
	StatusFinished  Status = "finished"  // 完了
)

// FormatGIF はアニメーション画像として書き出すフォーマット
const FormatGIF = "gif"

// Frame はセッション内の1フレーム
type Frame struct {
	Filename   string    // frames/ 配下のファイル名
	CapturedAt time.Time // 撮影時刻 (UTC)
}

// Session は1台のカメラに対する1回の録画
type Session struct {
	SessionID string

	// 開始時点のカメラ情報のスナップショット
	CameraID      int
	CameraName    string
	CameraAddress string
	ImageURL      string

	Interval      int  // 撮影間隔（秒）
	DurationLimit *int // 最大録画時間（秒）。nilは無制限

	Status          Status
	StartedAt       time.Time
	EndedAt         *time.Time
	Frames          []Frame
	FrameCount      int
	ExportedFormats []string

	BasePath string // セッション専用ディレクトリ
}

// Config はタイムラプス設定
type Config struct {
	RootDir            string        `yaml:"root_dir" validate:"required"`              // 保存先ルート
	DefaultInterval    int           `yaml:"default_interval" validate:"min=1"`         // 撮影間隔のデフォルト（秒）
	MaxActiveRecorders int           `yaml:"max_active_recorders" validate:"min=1"`     // 同時録画数の上限
	PoolSize           int           `yaml:"pool_size" validate:"min=1"`                // キャプチャワーカー数
	FrameFormat        string        `yaml:"frame_format" validate:"required,alphanum"` // フレームの拡張子
	Request            RequestConfig `yaml:"request"`
	Export             ExportConfig  `yaml:"export"`
}

// RequestConfig は静止画取得リクエストの設定
type RequestConfig struct {
	Timeout time.Duration     `yaml:"timeout" validate:"gt=0"` // 1リクエストのタイムアウト
	Headers map[string]string `yaml:"headers"`                 // 付与するHTTPヘッダー
}

// ExportConfig は書き出し設定
type ExportConfig struct {
	Formats    []string `yaml:"formats" validate:"required,min=1,dive,required,alphanum"` // 許可する書き出し形式
	MaxFPS     float64  `yaml:"max_fps" validate:"gte=1"`                                 // 書き出しフレームレートの上限
	Quality    int      `yaml:"quality" validate:"min=1,max=5"`                           // 動画品質 (1-5)
	FFmpegPath string   `yaml:"ffmpeg_path"`                                              // ffmpeg実行ファイル
}

// DefaultRequestHeaders はブラウザ相当のヘッダー。付与しないと拒否するカメラがある
func DefaultRequestHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Accept":          "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8",
		"Accept-Language": "es-ES,es;q=0.9,en;q=0.8",
		"Referer":         "https://movilidad.malaga.eu/",
		"Sec-Fetch-Dest":  "image",
		"Sec-Fetch-Mode":  "no-cors",
		"Sec-Fetch-Site":  "same-origin",
	}
}

// DefaultConfig はデフォルトのタイムラプス設定を返す
func DefaultConfig() Config {
	return Config{
		RootDir:            "timelapses",
		DefaultInterval:    5,
		MaxActiveRecorders: 6,
		PoolSize:           runtime.GOMAXPROCS(0),
		FrameFormat:        "jpg",
		Request: RequestConfig{
			Timeout: 10 * time.Second,
			Headers: DefaultRequestHeaders(),
		},
		Export: ExportConfig{
			Formats:    []string{FormatGIF, "mp4"},
			MaxFPS:     10,
			Quality:    3,
			FFmpegPath: "ffmpeg",
		},
	}
}
