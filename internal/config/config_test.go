package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"teiten/internal/camera"
	"teiten/internal/timelapse"
)

// clearEnv はテスト中だけ環境変数を空にする
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"SERVER_HOST", "PORT", "TEITEN_CONFIG", "TEITEN_ROOT", "TEITEN_MAX_ACTIVE", "TEITEN_POOL_SIZE", "TEITEN_CAMERAS"} {
		t.Setenv(key, "")
	}
}

// TestConfigLoad は設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// サーバー設定の検証
	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}
	// WriteTimeout は 0（無効）でも正常
	if cfg.Server.WriteTimeout < 0 {
		t.Error("書き込みタイムアウトが負の値です")
	}

	// タイムラプスのデフォルト値
	tl := cfg.Timelapse
	if tl.DefaultInterval != 5 {
		t.Errorf("撮影間隔のデフォルトが一致しません: got %d, want 5", tl.DefaultInterval)
	}
	if tl.MaxActiveRecorders != 6 {
		t.Errorf("同時録画数のデフォルトが一致しません: got %d, want 6", tl.MaxActiveRecorders)
	}
	if tl.PoolSize < 1 {
		t.Errorf("ワーカー数が設定されていません: %d", tl.PoolSize)
	}
	if tl.Request.Timeout != 10*time.Second {
		t.Errorf("リクエストタイムアウトが一致しません: %v", tl.Request.Timeout)
	}
	if tl.Request.Headers["User-Agent"] == "" {
		t.Error("User-Agentヘッダーが設定されていません")
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{"正常な設定", func(c *Config) {}, false},
		{"無効なポート番号", func(c *Config) { c.Server.Port = 99999 }, true},
		{"ホストなし", func(c *Config) { c.Server.Host = "" }, true},
		{"保存先なし", func(c *Config) { c.Timelapse.RootDir = "" }, true},
		{"撮影間隔0", func(c *Config) { c.Timelapse.DefaultInterval = 0 }, true},
		{"同時録画数0", func(c *Config) { c.Timelapse.MaxActiveRecorders = 0 }, true},
		{"書き出し形式なし", func(c *Config) { c.Timelapse.Export.Formats = nil }, true},
		{"書き出し形式が大文字", func(c *Config) { c.Timelapse.Export.Formats = []string{"GIF"} }, true},
		{"フレームレート上限が1未満", func(c *Config) { c.Timelapse.Export.MaxFPS = 0.5 }, true},
		{"タイムアウト0", func(c *Config) { c.Timelapse.Request.Timeout = 0 }, true},
		{
			"カメラID重複",
			func(c *Config) {
				c.Camera.Cameras = []camera.Camera{{ID: 1, Name: "a"}, {ID: 1, Name: "b"}}
			},
			true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
func TestEnvironmentVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("PORT", "9999")
	t.Setenv("TEITEN_ROOT", "/data/timelapses")
	t.Setenv("TEITEN_MAX_ACTIVE", "3")
	t.Setenv("TEITEN_POOL_SIZE", "4")
	t.Setenv("TEITEN_CAMERAS", "/etc/teiten/cameras.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: got %s, want test.example.com", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: got %d, want 9999", cfg.Server.Port)
	}
	if cfg.Timelapse.RootDir != "/data/timelapses" {
		t.Errorf("保存先が反映されていません: %s", cfg.Timelapse.RootDir)
	}
	if cfg.Timelapse.MaxActiveRecorders != 3 || cfg.Timelapse.PoolSize != 4 {
		t.Errorf("同時録画数・ワーカー数が反映されていません: %d, %d", cfg.Timelapse.MaxActiveRecorders, cfg.Timelapse.PoolSize)
	}
	if cfg.Camera.File != "/etc/teiten/cameras.yaml" {
		t.Errorf("カメラ定義ファイルが反映されていません: %s", cfg.Camera.File)
	}
}

// TestLoadFile はYAMLファイルからの読み込みをテストする
func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "teiten.yaml")
	content := `server:
  port: 9000
camera:
  cameras:
    - id: 1
      name: "TV103-A"
      image_url: "http://example.com/103.jpg"
timelapse:
  root_dir: "/srv/timelapses"
  default_interval: 10
  request:
    timeout: 3s
  export:
    formats: ["gif", "webm"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	// 環境変数はファイルより優先される
	t.Setenv("PORT", "9100")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("ポートが一致しません: got %d, want 9100", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("未指定の項目はデフォルト値のはずです: %s", cfg.Server.Host)
	}
	if cfg.Timelapse.RootDir != "/srv/timelapses" || cfg.Timelapse.DefaultInterval != 10 {
		t.Errorf("タイムラプス設定が反映されていません: %+v", cfg.Timelapse)
	}
	if cfg.Timelapse.Request.Timeout != 3*time.Second {
		t.Errorf("タイムアウトが一致しません: %v", cfg.Timelapse.Request.Timeout)
	}
	if cfg.Timelapse.Export.MaxFPS != timelapse.DefaultConfig().Export.MaxFPS {
		t.Errorf("未指定のMaxFPSはデフォルト値のはずです: %v", cfg.Timelapse.Export.MaxFPS)
	}
	if len(cfg.Camera.Cameras) != 1 || cfg.Camera.Cameras[0].ImageURL != "http://example.com/103.jpg" {
		t.Errorf("カメラ定義が反映されていません: %+v", cfg.Camera.Cameras)
	}

	dir, err := cfg.OpenDirectory()
	if err != nil {
		t.Fatalf("OpenDirectory failed: %v", err)
	}
	if _, ok := dir.Get(1); !ok {
		t.Error("設定内のカメラがディレクトリにありません")
	}
}

// TestLoadFileErrors は読み込みエラーをテストする
func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("server: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("timelapse:\n  max_active_recorders: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{filepath.Join(dir, "missing.yaml"), broken, invalid} {
		if _, err := LoadFile(path); err == nil {
			t.Errorf("%s: エラーが期待されましたが、エラーが発生しませんでした", filepath.Base(path))
		}
	}
}

// TestOpenDirectoryFromFile はカメラ定義ファイルの指定をテストする
func TestOpenDirectoryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cameras.yaml")
	content := "cameras:\n  - id: 5\n    name: \"TV500\"\n    image_url: \"http://example.com/500.jpg\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Camera.File = path

	dir, err := cfg.OpenDirectory()
	if err != nil {
		t.Fatalf("OpenDirectory failed: %v", err)
	}
	if _, ok := dir.(*camera.FileDirectory); !ok {
		t.Errorf("Expected *camera.FileDirectory, got %T", dir)
	}
	if _, ok := dir.Get(5); !ok {
		t.Error("定義ファイルのカメラがディレクトリにありません")
	}
}
