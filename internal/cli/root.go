// Package cli はteitenコマンドのサブコマンドを定義する
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"teiten/internal/config"
	"teiten/internal/timelapse"
)

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "設定ファイルのパス (デフォルト: $TEITEN_CONFIG)")
}

var rootCmd = &cobra.Command{
	Use:   "teiten",
	Short: "道路カメラの静止画からタイムラプスを作成する",
	Long: `teiten は道路カメラの静止画を一定間隔で取得してタイムラプスとして保存し、
GIFや動画に書き出すツールです。

serve でHTTP APIを起動します。sessions, show, export, delete は
サーバーを起動せずに保存済みのセッションを操作します。
同じ保存先で serve が稼働中の間は export と delete を実行できません。`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute はコマンドを実行する
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig は --config か TEITEN_CONFIG で指定された設定を読み込む
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// openManager は保存済みのセッションを読み込んだマネージャーを作成する
func openManager(cfg *config.Config) (*timelapse.Manager, error) {
	m, err := timelapse.NewManager(cfg.Timelapse)
	if err != nil {
		return nil, fmt.Errorf("タイムラプスマネージャーの作成に失敗: %w", err)
	}
	return m, nil
}
