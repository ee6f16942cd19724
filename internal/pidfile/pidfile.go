// Package pidfile はサーバーの多重起動と、稼働中のサーバーと競合する操作を防ぐ
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileName は保存先ルートに置くPIDファイルの名前
const FileName = "teiten.pid"

// ErrRunning は同じ保存先でサーバーが稼働中であることを示す
var ErrRunning = errors.New("同じ保存先でサーバーが稼働中です")

// PIDFile は保存先を使用中のプロセスを記録する
type PIDFile struct {
	path string
	pid  int
}

// Path は保存先ルートに対応するPIDファイルのパスを返す
func Path(root string) string {
	return filepath.Join(root, FileName)
}

// New はPIDファイルを作成する
//
// 稼働中のプロセスのPIDが書かれていればErrRunningを返す。終了済みなら上書きする。
func New(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("PIDファイルのディレクトリ作成に失敗: %w", err)
	}

	if pid, ok := Running(path); ok {
		return nil, fmt.Errorf("%w (PID %d)", ErrRunning, pid)
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return nil, fmt.Errorf("PIDファイルの書き込みに失敗: %w", err)
	}
	return &PIDFile{path: path, pid: pid}, nil
}

// Remove はPIDファイルを削除する。他のプロセスに上書きされていれば残す
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}
	if pid, err := readPID(p.path); err == nil && pid == p.pid {
		return os.Remove(p.path)
	}
	return nil
}

// Running はPIDファイルに書かれたプロセスが稼働中ならそのPIDを返す
func Running(path string) (int, bool) {
	pid, err := readPID(path)
	if err != nil {
		return 0, false
	}
	return pid, isProcessRunning(pid)
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// isProcessRunning はシグナル0を送ってプロセスの存在を確認する
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true
	case errors.Is(err, syscall.EPERM):
		// 存在するが権限がない
		return true
	default:
		return false
	}
}
