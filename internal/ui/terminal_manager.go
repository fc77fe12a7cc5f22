package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// TerminalManager 管理终端输出，确保进度条和消息不会混乱
type TerminalManager struct {
	mu  sync.Mutex
	out io.Writer
}

var (
	// 全局终端管理器实例
	globalTerminalManager *TerminalManager
	once                  sync.Once
)

// GetTerminalManager 获取全局终端管理器实例
func GetTerminalManager() *TerminalManager {
	once.Do(func() {
		globalTerminalManager = NewTerminalManager(os.Stdout)
	})
	return globalTerminalManager
}

// NewTerminalManager 输出到指定 writer
func NewTerminalManager(out io.Writer) *TerminalManager {
	return &TerminalManager{out: out}
}

// PrintMsg 清除当前进度行后打印一行消息
func (tm *TerminalManager) PrintMsg(format string, args ...interface{}) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	fmt.Fprint(tm.out, "\033[2K\r")
	fmt.Fprintf(tm.out, format+"\n", args...)
}

// UpdateProgress 覆盖当前行
// line 原样输出，其中的 % 不会被当作格式符
func (tm *TerminalManager) UpdateProgress(line string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	fmt.Fprint(tm.out, "\033[2K\r")
	fmt.Fprint(tm.out, line)
}

// Newline 结束当前进度行
func (tm *TerminalManager) Newline() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	fmt.Fprintln(tm.out)
}
