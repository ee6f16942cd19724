package timelapse

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	json "github.com/goccy/go-json"
)

const (
	sessionFileName = "session.json"
	indexFileName   = "index.json"
)

// Store はセッション記録とインデックスをファイルに永続化する
type Store struct {
	root string
}

// indexFile はindex.jsonのトップレベル構造
type indexFile struct {
	GeneratedAt string            `json:"generated_at"`
	Sessions    []json.RawMessage `json:"sessions"`
}

// NewStore は新しいStoreを作成する
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root は保存先ルートを返す
func (s *Store) Root() string {
	return s.root
}

// IndexPath はindex.jsonのパスを返す
func (s *Store) IndexPath() string {
	return filepath.Join(s.root, indexFileName)
}

// SaveSession は<base_path>/session.jsonを書き込む
func (s *Store) SaveSession(sess Session) error {
	if sess.BasePath == "" {
		return fmt.Errorf("セッション %s の保存先が未設定です", sess.SessionID)
	}
	if err := os.MkdirAll(sess.BasePath, 0755); err != nil {
		return fmt.Errorf("セッションディレクトリの作成に失敗: %w", err)
	}
	if err := atomicWriteJSON(filepath.Join(sess.BasePath, sessionFileName), sess); err != nil {
		return fmt.Errorf("セッション記録の保存に失敗 (%s): %w", sess.SessionID, err)
	}
	return nil
}

// SaveIndex はindex.jsonを書き込む
func (s *Store) SaveIndex(sessions []Session, now time.Time) error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("保存先ルートの作成に失敗: %w", err)
	}

	index := indexFile{
		GeneratedAt: formatTimestamp(now),
		Sessions:    make([]json.RawMessage, 0, len(sessions)),
	}
	for _, sess := range sessions {
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("セッション記録の変換に失敗 (%s): %w", sess.SessionID, err)
		}
		index.Sessions = append(index.Sessions, data)
	}

	if err := atomicWriteJSON(s.IndexPath(), index); err != nil {
		return fmt.Errorf("インデックスの保存に失敗: %w", err)
	}
	return nil
}

// Load はインデックスを読み込み、各セッションはsession.jsonの内容を優先して復元する
//
// インデックスが存在しない場合や壊れている場合は空の一覧を返す。
func (s *Store) Load() ([]Session, error) {
	data, err := os.ReadFile(s.IndexPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Session{}, nil
		}
		return nil, fmt.Errorf("インデックスの読み込みに失敗: %w", err)
	}

	var index indexFile
	if err := json.Unmarshal(data, &index); err != nil {
		log.Printf("インデックスが壊れているため空の状態で起動します (%s): %v", s.IndexPath(), err)
		return []Session{}, nil
	}

	byID := make(map[string]Session, len(index.Sessions))
	order := make([]string, 0, len(index.Sessions))
	for i, raw := range index.Sessions {
		var entry Session
		if err := json.Unmarshal(raw, &entry); err != nil {
			log.Printf("インデックスの%d件目を読み飛ばします: %v", i, err)
			continue
		}

		sess := entry
		if loaded, err := s.loadSessionFile(entry.BasePath); err == nil {
			sess = loaded
		} else if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("session.jsonを読めないためインデックスの内容を使用します (%s): %v", entry.SessionID, err)
		}
		if sess.SessionID == "" {
			continue
		}

		if _, ok := byID[sess.SessionID]; !ok {
			order = append(order, sess.SessionID)
		}
		byID[sess.SessionID] = sess
	}

	sessions := make([]Session, 0, len(order))
	for _, id := range order {
		sessions = append(sessions, byID[id])
	}
	return sessions, nil
}

func (s *Store) loadSessionFile(basePath string) (Session, error) {
	if basePath == "" {
		return Session{}, fs.ErrNotExist
	}
	data, err := os.ReadFile(filepath.Join(basePath, sessionFileName))
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// RemoveSessionDir はセッションディレクトリを削除する。ファイルを先に消し、深い階層のディレクトリから順に消す
func RemoveSessionDir(path string) error {
	if path == "" {
		return nil
	}

	var dirs []string
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, p)
			return nil
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("ファイルの削除に失敗 (%s): %w", p, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	// 深い階層から削除する
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("ディレクトリの削除に失敗 (%s): %w", dir, err)
		}
	}
	return nil
}

// atomicWriteJSON は一時ファイルに書き込んでからリネームする
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil

	return os.Rename(tmpPath, path)
}
