package camera

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// directoryFile はカメラ定義ファイルのトップレベル構造
type directoryFile struct {
	Cameras []Camera `yaml:"cameras"`
}

// FileDirectory はYAMLファイルから読み込むDirectory実装
//
// Watch を呼ぶとファイルの変更を検知して再読み込みする。
// 再読み込みに失敗した場合は直前の一覧を保持し続ける。
type FileDirectory struct {
	*StaticDirectory
	path string

	// フォールバック用ポーリング間隔
	pollInterval time.Duration
}

// NewFileDirectory はファイルを読み込んで新しいFileDirectoryを作成する
func NewFileDirectory(path string) (*FileDirectory, error) {
	cameras, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	return &FileDirectory{
		StaticDirectory: NewStaticDirectory(cameras),
		path:            path,
		pollInterval:    30 * time.Second,
	}, nil
}

// LoadFile はカメラ定義ファイルを読み込む
func LoadFile(path string) ([]Camera, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("カメラ定義ファイルの読み込みに失敗: %w", err)
	}

	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("カメラ定義ファイルの解析に失敗 (%s): %w", path, err)
	}

	seen := make(map[int]bool, len(file.Cameras))
	for _, cam := range file.Cameras {
		if seen[cam.ID] {
			return nil, fmt.Errorf("カメラIDが重複しています: %d", cam.ID)
		}
		seen[cam.ID] = true
	}

	return file.Cameras, nil
}

// Reload はファイルを再読み込みする
func (d *FileDirectory) Reload() error {
	cameras, err := LoadFile(d.path)
	if err != nil {
		return err
	}
	d.replace(cameras)
	return nil
}

// Watch はファイル変更を監視して自動で再読み込みする。ctxが終了するまでブロックする
func (d *FileDirectory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("fsnotifyが利用できないためポーリングで監視します: %v", err)
		d.poll(ctx)
		return nil
	}
	defer func() { _ = watcher.Close() }()

	// エディタによる置き換え保存も拾うためディレクトリ単位で監視する
	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		return fmt.Errorf("カメラ定義ファイルの監視開始に失敗: %w", err)
	}

	target := filepath.Clean(d.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				log.Println("fsnotifyのイベントチャンネルが閉じられたためポーリングに切り替えます")
				d.poll(ctx)
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := d.Reload(); err != nil {
				log.Printf("カメラ定義の再読み込みに失敗 (前回の一覧を保持): %v", err)
				continue
			}
			log.Printf("カメラ定義を再読み込みしました: %d台", len(d.List()))

		case err, ok := <-watcher.Errors:
			if !ok {
				d.poll(ctx)
				return nil
			}
			log.Printf("カメラ定義ファイル監視エラー: %v", err)
		}
	}
}

// poll は一定間隔で更新時刻を確認して再読み込みする
func (d *FileDirectory) poll(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(d.path); err == nil {
		lastMod = info.ModTime()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(d.path)
			if err != nil || !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			if err := d.Reload(); err != nil {
				log.Printf("カメラ定義の再読み込みに失敗 (前回の一覧を保持): %v", err)
			}
		}
	}
}
