// Package notice はトースト形式の一度きり通知を提供する。
// 認可エラー時の「もう一度ログインしてください」等の表示に使用される。
package notice

import "sync"

// Level は通知の重要度を表す。
type Level string

const (
	// LevelInfo は情報通知。
	LevelInfo Level = "info"
	// LevelWarn は警告通知。
	LevelWarn Level = "warn"
	// LevelError はエラー通知。
	LevelError Level = "error"
)

// Notice はユーザーに表示する1件の通知を表す。
type Notice struct {
	Key     string
	Level   Level
	Message string
}

// Publisher は通知の発行インターフェース。
type Publisher interface {
	// PublishOnce はkeyごとに一度だけ通知を発行する。
	// 同一keyの2回目以降の呼び出しは無視される（重複表示防止）。
	PublishOnce(key string, level Level, message string)
}

// Center は通知の発行と取り出しを管理するPublisher実装。
// UI層がDrainで未表示の通知を取り出して表示する想定。
type Center struct {
	mu        sync.Mutex
	pending   []Notice
	published map[string]bool
}

// NewCenter はCenterを生成する。
func NewCenter() *Center {
	return &Center{published: make(map[string]bool)}
}

// PublishOnce はkeyごとに一度だけ通知をキューに積む。
func (c *Center) PublishOnce(key string, level Level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.published[key] {
		return
	}
	c.published[key] = true
	c.pending = append(c.pending, Notice{Key: key, Level: level, Message: message})
}

// Drain は未表示の通知をすべて取り出して返す。取り出した通知はキューから消える。
func (c *Center) Drain() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.pending
	c.pending = nil
	return out
}

// Reset は発行済みキーをリセットする。
// サインイン成功後に次回の認可エラーを再び通知できるようにするために呼ぶ。
func (c *Center) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = make(map[string]bool)
	c.pending = nil
}

// compile-time interface check
var _ Publisher = (*Center)(nil)
