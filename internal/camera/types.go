package camera

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrCameraNotFound はディレクトリに存在しないカメラIDを指定した場合のエラー
var ErrCameraNotFound = errors.New("カメラが見つかりません")

// Camera はカメラディレクトリの1エントリ
//
// タイムラプス開始時にスナップショットとしてセッションへコピーされるため、
// 後からディレクトリが変わってもセッション側には影響しない。
type Camera struct {
	ID       int    `yaml:"id" json:"id"`               // カメラID
	Name     string `yaml:"name" json:"name"`           // 表示名
	Address  string `yaml:"address" json:"address"`     // 設置場所
	ImageURL string `yaml:"image_url" json:"image_url"` // 静止画URL
}

// String はログ表示用の文字列を返す
func (c Camera) String() string {
	return fmt.Sprintf("%s - %s", c.Name, c.Address)
}

// Directory はカメラ一覧を提供するインターフェース
type Directory interface {
	// List は全カメラをID順で返す
	List() []Camera

	// Get は指定されたIDのカメラを取得する
	Get(id int) (Camera, bool)

	// Resolve はID列をカメラ列に変換する。1つでも存在しなければエラー
	Resolve(ids []int) ([]Camera, error)
}

// StaticDirectory は固定リストを持つDirectory実装
type StaticDirectory struct {
	cameras map[int]Camera
	mu      sync.RWMutex
}

// NewStaticDirectory は新しいStaticDirectoryを作成する
func NewStaticDirectory(cameras []Camera) *StaticDirectory {
	d := &StaticDirectory{}
	d.replace(cameras)
	return d
}

// replace はカメラ一覧を丸ごと差し替える
func (d *StaticDirectory) replace(cameras []Camera) {
	m := make(map[int]Camera, len(cameras))
	for _, cam := range cameras {
		m[cam.ID] = cam // 重複IDは後勝ち
	}

	d.mu.Lock()
	d.cameras = m
	d.mu.Unlock()
}

// List は全カメラをID順で返す
func (d *StaticDirectory) List() []Camera {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cameras := make([]Camera, 0, len(d.cameras))
	for _, cam := range d.cameras {
		cameras = append(cameras, cam)
	}
	sort.Slice(cameras, func(i, j int) bool {
		return cameras[i].ID < cameras[j].ID
	})
	return cameras
}

// Get は指定されたIDのカメラを取得する
func (d *StaticDirectory) Get(id int) (Camera, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cam, ok := d.cameras[id]
	return cam, ok
}

// Resolve はID列をカメラ列に変換する
func (d *StaticDirectory) Resolve(ids []int) ([]Camera, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cameras := make([]Camera, 0, len(ids))
	for _, id := range ids {
		cam, ok := d.cameras[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrCameraNotFound, id)
		}
		cameras = append(cameras, cam)
	}
	return cameras, nil
}
