package timelapse

import (
	"errors"
	"log"
	"runtime"
	"sync"
)

// ErrPoolClosed は停止済みのプールに投入した場合のエラー
var ErrPoolClosed = errors.New("ワーカープールは停止しています")

// Pool は全セッションで共有するキャプチャ用ワーカープール
//
// ワーカー数が外部への同時リクエスト数の上限になる。
type Pool struct {
	tasks  chan func()
	size   int
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewPool は指定数のワーカーを持つプールを作成する。0以下ならGOMAXPROCSを使う
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		tasks: make(chan func(), size*4),
		size:  size,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Size はワーカー数を返す
func (p *Pool) Size() int {
	return p.size
}

// Submit はタスクを投入する。キューが満杯の場合は空くまで待つ
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.tasks <- task
	return nil
}

// Close は新規投入を止め、投入済みタスクの完了を待つ
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

// run はタスクのpanicでワーカーが失われないようにする
func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("キャプチャタスクでpanicが発生しました: %v", r)
		}
	}()
	task()
}
