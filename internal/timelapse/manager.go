package timelapse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"teiten/internal/camera"
)

// マネージャー操作のエラー
var (
	ErrNoCameras        = errors.New("カメラが選択されていません")
	ErrNoImageURL       = errors.New("カメラに静止画URLが設定されていません")
	ErrCapacityExceeded = errors.New("同時録画数の上限に達しています")
	ErrSessionNotFound  = errors.New("セッションが見つかりません")
	ErrSessionRecording = errors.New("録画中のセッションは書き出せません")
)

// StatusInfo は録画システムの状態情報
type StatusInfo struct {
	Active        int      `json:"active"`
	MaxActive     int      `json:"max_active"`
	PoolSize      int      `json:"pool_size"`
	TotalSessions int      `json:"total_sessions"`
	ExportFormats []string `json:"export_formats"`
}

// Option はManagerの依存関係を差し替える
type Option func(*Manager)

// WithCapturer はキャプチャの実装を差し替える
func WithCapturer(c Capturer) Option {
	return func(m *Manager) { m.capturer = c }
}

// WithVideoEncoder は動画エンコーダーを差し替える
func WithVideoEncoder(v VideoEncoder) Option {
	return func(m *Manager) { m.video = v }
}

// WithClock は現在時刻の取得方法を差し替える
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTicker はレコーダーの定期トリガーを差し替える
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(m *Manager) { m.newTicker = newTicker }
}

// WithStore は永続化先を差し替える
func WithStore(s *Store) Option {
	return func(m *Manager) { m.store = s }
}

// Manager はセッションとレコーダーの集合を管理する
//
// 表示層が操作するのはこのオブジェクトだけ。ロックの順序は
// Manager.mu → Recorder.mu とし、レコーダーからの通知はレコーダーの
// ロック解放後に届く。
type Manager struct {
	cfg       Config
	store     *Store
	pool      *Pool
	exporter  *Exporter
	capturer  Capturer
	video     VideoEncoder
	bus       *Bus
	now       func() time.Time
	newTicker func(time.Duration) Ticker

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	sessions  map[string]*Session
	recorders map[string]*Recorder
}

// NewManager は保存済みのインデックスを読み込んで新しいManagerを作成する
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:       cfg,
		bus:       NewBus(),
		now:       time.Now,
		sessions:  make(map[string]*Session),
		recorders: make(map[string]*Recorder),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewStore(cfg.RootDir)
	}
	if m.capturer == nil {
		m.capturer = NewHTTPCapturer(cfg.Request)
	}
	m.exporter = NewExporter(cfg.Export, m.video)

	if err := os.MkdirAll(m.store.Root(), 0755); err != nil {
		return nil, fmt.Errorf("保存先ルートの作成に失敗: %w", err)
	}

	loaded, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	for i := range loaded {
		sess := loaded[i]
		reconcileLoaded(&sess)
		m.sessions[sess.SessionID] = &sess
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.pool = NewPool(cfg.PoolSize)

	log.Printf("タイムラプスマネージャーを開始しました (保存済みセッション %d件, ワーカー %d)", len(m.sessions), m.pool.Size())
	return m, nil
}

// reconcileLoaded は録画中のまま残っていたセッションを終了扱いにする
//
// プロセス終了でレコーダーが失われたセッションが対象。ファイルへの反映は次回の書き込み時。
func reconcileLoaded(sess *Session) {
	if sess.Status == StatusFinished && sess.EndedAt != nil {
		return
	}
	ended := sess.StartedAt
	if n := len(sess.Frames); n > 0 {
		ended = sess.Frames[n-1].CapturedAt
	}
	sess.MarkFinished(ended)
}

// StartTimelapse はカメラごとにセッションを作成して録画を開始する
//
// 上限を超える場合や静止画URLのないカメラが含まれる場合は1件も作成しない。
// intervalが0以下なら既定値を使う。durationLimitがnilなら明示的に停止するまで録画する。
func (m *Manager) StartTimelapse(cameras []camera.Camera, interval int, durationLimit *int) ([]Session, error) {
	if len(cameras) == 0 {
		return nil, ErrNoCameras
	}
	if interval <= 0 {
		interval = m.cfg.DefaultInterval
	}

	m.mu.Lock()

	active := m.activeCountLocked()
	if active+len(cameras) > m.cfg.MaxActiveRecorders {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (録画中 %d件 + 新規 %d件 > 上限 %d件)",
			ErrCapacityExceeded, active, len(cameras), m.cfg.MaxActiveRecorders)
	}
	for _, cam := range cameras {
		if strings.TrimSpace(cam.ImageURL) == "" {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrNoImageURL, cam.String())
		}
	}

	now := normalizeTime(m.now())
	created := make([]Session, 0, len(cameras))
	taken := make(map[string]bool, len(cameras))
	for i, cam := range cameras {
		id := m.newSessionIDLocked(cam.ID, now, i+1, taken)
		taken[id] = true

		sess := Session{
			SessionID:       id,
			CameraID:        cam.ID,
			CameraName:      cam.Name,
			CameraAddress:   cam.Address,
			ImageURL:        cam.ImageURL,
			Interval:        interval,
			DurationLimit:   cloneIntPtr(durationLimit),
			Status:          StatusRecording,
			StartedAt:       now,
			Frames:          []Frame{},
			ExportedFormats: []string{},
			BasePath:        sessionBasePath(m.store.Root(), cam, now, id),
		}
		created = append(created, sess)
	}

	if err := m.persistBatchLocked(created); err != nil {
		for _, sess := range created {
			if rmErr := RemoveSessionDir(sess.BasePath); rmErr != nil {
				log.Printf("作成途中のセッションの削除に失敗 (%s): %v", sess.SessionID, rmErr)
			}
		}
		m.mu.Unlock()
		return nil, err
	}

	recorders := make([]*Recorder, 0, len(created))
	for i := range created {
		sess := created[i].Clone()
		m.sessions[sess.SessionID] = &sess
		rec := m.newRecorder(sess)
		m.recorders[sess.SessionID] = rec
		recorders = append(recorders, rec)
	}
	m.mu.Unlock()

	for i, rec := range recorders {
		id := created[i].SessionID
		started := created[i].Clone()
		m.bus.Publish(Event{Type: EventSessionStarted, SessionID: id, Session: &started})

		if err := rec.Start(); err != nil {
			log.Printf("録画の開始に失敗 (%s): %v", id, err)
			m.bus.Publish(Event{Type: EventSessionError, SessionID: id, Message: fmt.Sprintf("%s: %v", id, err)})
			// 終了済みとして保存し、同時録画数の枠を空ける
			rec.Stop()
			created[i] = rec.Snapshot()
			continue
		}
		// 開始までの間に削除された場合は止める
		if !m.hasSession(id) {
			rec.Stop()
		}
	}
	m.publishChanged()

	log.Printf("%d件の録画を開始しました", len(created))
	return created, nil
}

// newRecorder は通知をマネージャーへ転送するレコーダーを作成する
func (m *Manager) newRecorder(sess Session) *Recorder {
	var rec *Recorder
	rec = NewRecorder(m.ctx, sess, RecorderOptions{
		Pool:        m.pool,
		Capturer:    m.capturer,
		FrameFormat: m.cfg.FrameFormat,
		Now:         m.now,
		NewTicker:   m.newTicker,
		Notify: func(ev RecorderEvent) {
			m.onRecorderEvent(sess.SessionID, rec, ev)
		},
	})
	return rec
}

// StopTimelapse は録画を停止する。存在しないIDや停止済みなら何もしない
func (m *Manager) StopTimelapse(id string) {
	m.mu.RLock()
	rec := m.recorders[id]
	m.mu.RUnlock()

	if rec != nil {
		rec.Stop()
	}
}

// StopAll は全ての録画を停止する
func (m *Manager) StopAll() {
	for _, rec := range m.recorderList() {
		rec.Stop()
	}
}

// DeleteSession はセッションのファイルと記録を削除する。存在しないIDなら何もしない
func (m *Manager) DeleteSession(id string) error {
	m.mu.RLock()
	_, ok := m.sessions[id]
	rec := m.recorders[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	// 撮影中のキャプチャが削除後に書き込まないよう完了を待つ
	if rec != nil {
		rec.Stop()
		rec.Wait()
	}

	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if err := RemoveSessionDir(sess.BasePath); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("セッションディレクトリの削除に失敗: %w", err)
	}
	delete(m.sessions, id)
	delete(m.recorders, id)
	err := m.store.SaveIndex(m.listLocked(), m.now())
	m.mu.Unlock()

	log.Printf("セッションを削除しました: %s", id)
	m.publishChanged()
	return err
}

// ExportSession は終了済みのセッションを書き出して出力先のパスを返す
//
// outputPathが空なら<base_path>/<session_id>.<fmt>に書き出す。
func (m *Manager) ExportSession(ctx context.Context, id, format, outputPath string) (string, error) {
	format = strings.ToLower(format)

	m.mu.RLock()
	sess, ok := m.sessions[id]
	rec := m.recorders[id]
	if !ok {
		m.mu.RUnlock()
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if rec != nil && rec.Active() {
		m.mu.RUnlock()
		err := fmt.Errorf("%w: %s", ErrSessionRecording, id)
		m.publishExportFailed(id, format, err)
		return "", err
	}
	work := sess.Clone()
	m.mu.RUnlock()

	path, err := m.exporter.Export(ctx, &work, format, outputPath)
	if err != nil {
		m.publishExportFailed(id, format, err)
		return "", err
	}

	m.mu.Lock()
	cur, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		m.publishExportFailed(id, format, err)
		return "", err
	}
	updated := cur.Clone()
	updated.RegisterExport(format)
	if err := m.persistLocked(updated); err != nil {
		m.mu.Unlock()
		m.publishExportFailed(id, format, err)
		return "", err
	}
	m.sessions[id] = &updated
	m.mu.Unlock()

	log.Printf("セッションを書き出しました: %s -> %s", id, path)
	m.bus.Publish(Event{Type: EventExportCompleted, SessionID: id, Format: format, Path: path})
	m.publishChanged()
	return path, nil
}

// ExportMultiple は複数のセッションを書き出す。存在しないIDは読み飛ばす
//
// outputDirを指定した場合は<output_dir>/<セッションディレクトリ名>.<fmt>に書き出す。
// 失敗したセッションがあっても残りは続行し、エラーはまとめて返す。
func (m *Manager) ExportMultiple(ctx context.Context, ids []string, format, outputDir string) ([]string, error) {
	paths := make([]string, 0, len(ids))
	var errs []error

	for _, id := range ids {
		sess, ok := m.GetSession(id)
		if !ok {
			continue
		}
		target := ""
		if outputDir != "" {
			target = filepath.Join(outputDir, fmt.Sprintf("%s.%s", filepath.Base(sess.BasePath), strings.ToLower(format)))
		}
		path, err := m.ExportSession(ctx, id, format, target)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		paths = append(paths, path)
	}

	return paths, errors.Join(errs...)
}

// ListSessions は開始時刻の新しい順にセッションを返す
func (m *Manager) ListSessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked()
}

// GetSession はセッションのコピーを返す
func (m *Manager) GetSession(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return sess.Clone(), true
}

// FramePath はセッションのindex番目（0始まり）のフレーム画像のパスを返す
func (m *Manager) FramePath(id string, index int) (string, error) {
	sess, ok := m.GetSession(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if index < 0 || index >= len(sess.Frames) {
		return "", fmt.Errorf("%w: %s のフレーム %d", ErrSessionNotFound, id, index)
	}
	return sess.FramePaths()[index], nil
}

// ActiveSessionIDs は録画中のセッションIDを返す
func (m *Manager) ActiveSessionIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.recorders))
	for id, rec := range m.recorders {
		if rec.Running() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Status はシステムの状態を返す
func (m *Manager) Status() StatusInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return StatusInfo{
		Active:        m.activeCountLocked(),
		MaxActive:     m.cfg.MaxActiveRecorders,
		PoolSize:      m.pool.Size(),
		TotalSessions: len(m.sessions),
		ExportFormats: m.exporter.Formats(),
	}
}

// Subscribe はイベントの購読を開始する
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.bus.Subscribe(buffer)
}

// Close は全ての録画を停止し、撮影中のキャプチャを待ってからワーカーを停止する
func (m *Manager) Close(ctx context.Context) error {
	m.StopAll()

	recorders := m.recorderList()
	done := make(chan struct{})
	go func() {
		for _, rec := range recorders {
			rec.Wait()
		}
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("キャプチャの完了待ちがタイムアウトしました。取得を中断します。")
		err = ctx.Err()
		m.cancel()
		<-done
	}

	m.cancel()
	m.pool.Close()
	m.bus.Close()

	log.Println("タイムラプスマネージャーを停止しました")
	return err
}

// onRecorderEvent はレコーダーからの通知を処理する
func (m *Manager) onRecorderEvent(id string, rec *Recorder, ev RecorderEvent) {
	if ev.Type == RecorderError {
		if !m.ownsRecorder(id, rec) {
			return
		}
		m.bus.Publish(Event{Type: EventSessionError, SessionID: id, Message: fmt.Sprintf("%s: %s", id, ev.Message)})
		return
	}

	m.mu.Lock()
	cur, ok := m.sessions[id]
	if !ok || m.recorders[id] != rec {
		m.mu.Unlock()
		return
	}
	snap := rec.Snapshot()
	// 書き出し済み形式はマネージャー側が管理する
	snap.ExportedFormats = append([]string(nil), cur.ExportedFormats...)
	m.sessions[id] = &snap
	err := m.persistLocked(snap)
	m.mu.Unlock()

	if err != nil {
		log.Printf("セッションの保存に失敗 (%s): %v", id, err)
		m.bus.Publish(Event{Type: EventSessionError, SessionID: id, Message: fmt.Sprintf("%s: %v", id, err)})
	}

	evType := EventSessionUpdated
	if ev.Type == RecorderFinished {
		evType = EventSessionFinished
	}
	m.bus.Publish(Event{Type: evType, SessionID: id, Session: &snap})
	m.publishChanged()
}

func (m *Manager) ownsRecorder(id string, rec *Recorder) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok && m.recorders[id] == rec
}

func (m *Manager) hasSession(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

func (m *Manager) recorderList() []*Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]*Recorder, 0, len(m.recorders))
	for _, rec := range m.recorders {
		recs = append(recs, rec)
	}
	return recs
}

// activeCountLocked は同時録画数に数えるレコーダーの数を返す
func (m *Manager) activeCountLocked() int {
	count := 0
	for _, rec := range m.recorders {
		if rec.Active() {
			count++
		}
	}
	return count
}

// listLocked は開始時刻の新しい順にセッションのコピーを返す
func (m *Manager) listLocked() []Session {
	sessions := make([]Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess.Clone())
	}
	sortSessions(sessions)
	return sessions
}

// persistLocked はsession.jsonとインデックスを書き込む。メモリ上の状態は変更しない
func (m *Manager) persistLocked(sess Session) error {
	return m.persistBatchLocked([]Session{sess})
}

func (m *Manager) persistBatchLocked(batch []Session) error {
	for _, sess := range batch {
		if err := m.store.SaveSession(sess); err != nil {
			return err
		}
	}

	overrides := make(map[string]Session, len(batch))
	for _, sess := range batch {
		overrides[sess.SessionID] = sess
	}
	index := make([]Session, 0, len(m.sessions)+len(batch))
	for id, sess := range m.sessions {
		if o, ok := overrides[id]; ok {
			index = append(index, o)
			delete(overrides, id)
			continue
		}
		index = append(index, sess.Clone())
	}
	for _, sess := range batch {
		if _, ok := overrides[sess.SessionID]; ok {
			index = append(index, sess)
		}
	}
	sortSessions(index)

	return m.store.SaveIndex(index, m.now())
}

func (m *Manager) publishChanged() {
	m.bus.Publish(Event{Type: EventSessionsChanged})
}

func (m *Manager) publishExportFailed(id, format string, err error) {
	log.Printf("セッションの書き出しに失敗 (%s, %s): %v", id, format, err)
	m.bus.Publish(Event{Type: EventExportFailed, SessionID: id, Format: format, Message: err.Error()})
}

// newSessionIDLocked は<camera_id>-<yyyymmddhhmmss>-<seq>形式のIDを作る
func (m *Manager) newSessionIDLocked(cameraID int, now time.Time, seq int, taken map[string]bool) string {
	stamp := now.Format("20060102150405")
	for {
		id := fmt.Sprintf("%d-%s-%d", cameraID, stamp, seq)
		if _, exists := m.sessions[id]; !exists && !taken[id] {
			return id
		}
		seq++
	}
}

func sortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].SessionID < sessions[j].SessionID
		}
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
}

// sessionBasePath は<root>/<slug>/<yyyy-mm-dd>/session-<id>を返す
func sessionBasePath(root string, cam camera.Camera, now time.Time, id string) string {
	name := cam.Name
	if name == "" {
		name = strconv.Itoa(cam.ID)
	}
	return filepath.Join(root, slugify(name), now.Format("2006-01-02"), "session-"+id)
}

// slugify は英数字以外を'-'に置き換えた小文字の名前を返す
func slugify(text string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteRune('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "camara"
	}
	return slug
}

func cloneIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
