package timelapse

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType は通知の種類
type EventType string

// EventType の定数定義
const (
	EventSessionsChanged EventType = "sessions_changed"
	EventSessionStarted  EventType = "session_started"
	EventSessionUpdated  EventType = "session_updated"
	EventSessionFinished EventType = "session_finished"
	EventSessionError    EventType = "session_error"
	EventExportCompleted EventType = "export_completed"
	EventExportFailed    EventType = "export_failed"
)

// Event はマネージャーが発行するライフサイクル通知
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Session   *Session  `json:"session,omitempty"`
	Format    string    `json:"format,omitempty"`
	Path      string    `json:"path,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus は購読者へイベントを配信する
//
// 購読者のバッファが満杯の場合はそのイベントを捨てる。発行側は待たされない。
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	closed      bool
}

// NewBus は新しいBusを作成する
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe は購読を開始する。返り値の関数で購読を解除する
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		})
	}
}

// Publish はIDと時刻を補ってイベントを配信する
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			log.Printf("購読者%dのバッファが満杯のためイベントを破棄しました: %s", id, ev.Type)
		}
	}
}

// Close は全購読者のチャンネルを閉じる
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
