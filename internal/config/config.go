package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"teiten/internal/camera"
	"teiten/internal/timelapse"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Camera    CameraConfig     `yaml:"camera"`
	Timelapse timelapse.Config `yaml:"timelapse"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" validate:"required"` // リッスンするホスト
	Port int    `yaml:"port"`                     // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"` // 停止時に録画の終了を待つ時間
}

// CameraConfig はカメラディレクトリの設定
type CameraConfig struct {
	File    string          `yaml:"file"`    // カメラ定義ファイル（指定時はこちらを優先）
	Watch   bool            `yaml:"watch"`   // 定義ファイルの変更を監視する
	Cameras []camera.Camera `yaml:"cameras"` // 設定ファイル内のカメラ定義
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // イベントストリーム用にタイムアウト無効化
			ShutdownTimeout: 10 * time.Second,
		},
		Camera: CameraConfig{
			Watch:   true,
			Cameras: []camera.Camera{},
		},
		Timelapse: timelapse.DefaultConfig(),
	}
}

// Load は設定を読み込む
//
// デフォルト値に TEITEN_CONFIG で指定したYAMLファイル、環境変数の順で上書きする。
func Load() (*Config, error) {
	return LoadFile(os.Getenv("TEITEN_CONFIG"))
}

// LoadFile は指定したYAMLファイルから設定を読み込む。pathが空ならファイルは読まない
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Timelapse.RootDir = getEnvOrDefault("TEITEN_ROOT", c.Timelapse.RootDir)
	c.Timelapse.MaxActiveRecorders = getEnvAsIntOrDefault("TEITEN_MAX_ACTIVE", c.Timelapse.MaxActiveRecorders)
	c.Timelapse.PoolSize = getEnvAsIntOrDefault("TEITEN_POOL_SIZE", c.Timelapse.PoolSize)
	c.Camera.File = getEnvOrDefault("TEITEN_CAMERAS", c.Camera.File)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("設定値が不正です: %w", err)
	}

	for _, format := range c.Timelapse.Export.Formats {
		if strings.ToLower(format) != format {
			return fmt.Errorf("書き出し形式は小文字で指定してください: %s", format)
		}
	}

	seen := make(map[int]bool, len(c.Camera.Cameras))
	for _, cam := range c.Camera.Cameras {
		if seen[cam.ID] {
			return fmt.Errorf("カメラIDが重複しています: %d", cam.ID)
		}
		seen[cam.ID] = true
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// OpenDirectory はカメラディレクトリを作成する
//
// 定義ファイルが指定されていれば *camera.FileDirectory を、なければ設定内の定義を返す。
func (c *Config) OpenDirectory() (camera.Directory, error) {
	if c.Camera.File != "" {
		dir, err := camera.NewFileDirectory(c.Camera.File)
		if err != nil {
			return nil, err
		}
		return dir, nil
	}
	return camera.NewStaticDirectory(c.Camera.Cameras), nil
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
