// Package main はteitenのHTTPサーバーのみを起動するコマンドです
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"teiten/internal/config"
	"teiten/internal/server"
	"teiten/internal/timelapse"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイルのパス (デフォルト: $TEITEN_CONFIG)")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("teiten server")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	path := *configPath
	if path == "" {
		path = os.Getenv("TEITEN_CONFIG")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	directory, err := cfg.OpenDirectory()
	if err != nil {
		log.Fatalf("カメラ定義の読み込みに失敗しました: %v", err)
	}
	manager, err := timelapse.NewManager(cfg.Timelapse)
	if err != nil {
		log.Fatalf("タイムラプスマネージャーの作成に失敗しました: %v", err)
	}

	srv := server.New(cfg, manager, directory)

	// サーバーを起動
	log.Printf("teiten サーバーを起動します: %s", cfg.ServerAddress())
	if err := srv.Start(context.Background()); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
