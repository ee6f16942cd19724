package timelapse

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RecorderEventType はレコーダーからマネージャーへの通知の種類
type RecorderEventType int

// RecorderEventType の定数定義
const (
	RecorderUpdated  RecorderEventType = iota // フレーム追加
	RecorderFinished                          // 録画終了
	RecorderError                             // キャプチャ失敗
)

// RecorderEvent はレコーダーからの通知
type RecorderEvent struct {
	Type    RecorderEventType
	Message string
}

type recorderState int

const (
	stateIdle recorderState = iota
	stateRecording
	stateFinished
)

// Ticker は定期実行のトリガー。テストで差し替える
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// RecorderOptions はレコーダーの依存関係
type RecorderOptions struct {
	Pool        *Pool
	Capturer    Capturer
	FrameFormat string
	Now         func() time.Time
	NewTicker   func(time.Duration) Ticker
	Notify      func(RecorderEvent)
}

// Recorder は1セッションの定期キャプチャを担当する
//
// 状態は Idle → Recording → Finished の一方向にのみ遷移する。
// セッションの状態はレコーダーだけが変更し、外部にはコピーを渡す。
type Recorder struct {
	session  Session
	state    recorderState
	inFlight bool
	sequence int
	epoch    time.Time

	pool        *Pool
	capturer    Capturer
	frameFormat string
	now         func() time.Time
	newTicker   func(time.Duration) Ticker
	notify      func(RecorderEvent)

	ctx    context.Context
	stopCh chan struct{}

	// 制御用
	mu       sync.Mutex
	captures sync.WaitGroup
}

// NewRecorder は新しいRecorderを作成する
func NewRecorder(ctx context.Context, session Session, opts RecorderOptions) *Recorder {
	r := &Recorder{
		session:     session.Clone(),
		pool:        opts.Pool,
		capturer:    opts.Capturer,
		frameFormat: opts.FrameFormat,
		now:         opts.Now,
		newTicker:   opts.NewTicker,
		notify:      opts.Notify,
		ctx:         ctx,
	}
	if r.frameFormat == "" {
		r.frameFormat = "jpg"
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newTicker == nil {
		r.newTicker = newTimeTicker
	}
	if r.notify == nil {
		r.notify = func(RecorderEvent) {}
	}
	return r
}

// Start は録画を開始する。録画中または終了済みなら何もしない
//
// 最初の1枚はすぐに撮影し、以降は撮影間隔ごとに撮影する。
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.state != stateIdle {
		r.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(r.session.FramesDir(), 0755); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("フレームディレクトリの作成に失敗: %w", err)
	}
	r.epoch = r.now()
	r.state = stateRecording
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	interval := time.Duration(r.session.Interval) * time.Second
	r.mu.Unlock()

	r.tick()

	ticker := r.newTicker(interval)
	go r.loop(ticker, stopCh)

	log.Printf("録画を開始しました: %s (間隔 %d秒)", r.session.SessionID, r.session.Interval)
	return nil
}

// Stop は録画を終了する。終了済みなら何もしない
//
// 開始前（開始に失敗した場合を含む）でも終了状態にする。
// 撮影中のキャプチャは中断せず、結果が届けばセッションに反映する。
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.state == stateFinished {
		r.mu.Unlock()
		return
	}
	r.state = stateFinished
	if r.stopCh != nil {
		close(r.stopCh)
	}
	r.session.MarkFinished(r.now())
	id := r.session.SessionID
	r.mu.Unlock()

	log.Printf("録画を停止しました: %s", id)
	r.notify(RecorderEvent{Type: RecorderFinished})
}

// Running は録画中かを返す
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRecording
}

// Active は同時録画数に数えるべきか（未開始または録画中）を返す
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != stateFinished
}

// Snapshot はセッションのコピーを返す
func (r *Recorder) Snapshot() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Clone()
}

// Wait は撮影中のキャプチャの完了を待つ
func (r *Recorder) Wait() {
	r.captures.Wait()
}

func (r *Recorder) loop(ticker Ticker, stopCh <-chan struct{}) {
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C():
			r.tick()
		}
	}
}

// tick は1回分のスケジューリングを行う
//
// 録画時間の上限に達していれば停止する。前回のキャプチャが終わっていなければ何もしない。
func (r *Recorder) tick() {
	r.mu.Lock()
	if r.state != stateRecording {
		r.mu.Unlock()
		return
	}

	if limit := r.session.DurationLimit; limit != nil && *limit > 0 {
		if r.now().Sub(r.epoch) >= time.Duration(*limit)*time.Second {
			r.mu.Unlock()
			r.Stop()
			return
		}
	}

	if r.inFlight {
		r.mu.Unlock()
		return
	}
	r.inFlight = true
	r.sequence++
	task := CaptureTask{
		SessionID: r.session.SessionID,
		ImageURL:  r.session.ImageURL,
		Path:      filepath.Join(r.session.FramesDir(), fmt.Sprintf("frame_%05d.%s", r.sequence, r.frameFormat)),
	}
	r.captures.Add(1)
	r.mu.Unlock()

	err := r.pool.Submit(func() {
		r.complete(r.capturer.Capture(r.ctx, task))
	})
	if err != nil {
		r.complete(CaptureResult{SessionID: task.SessionID, Filename: filepath.Base(task.Path), Err: err})
	}
}

// complete はキャプチャ結果をセッションに反映する
func (r *Recorder) complete(result CaptureResult) {
	defer r.captures.Done()

	r.mu.Lock()
	r.inFlight = false
	if result.SessionID != r.session.SessionID {
		r.mu.Unlock()
		return
	}
	if result.Err != nil {
		r.mu.Unlock()
		log.Printf("フレームの取得に失敗 (%s): %v", result.SessionID, result.Err)
		r.notify(RecorderEvent{Type: RecorderError, Message: result.Err.Error()})
		return
	}
	r.session.AppendFrame(result.Filename, result.CapturedAt)
	r.mu.Unlock()

	r.notify(RecorderEvent{Type: RecorderUpdated})
}
