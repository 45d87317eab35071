// Package navigation は画面遷移の抽象化を提供する。
// ルートガードと認可エラーハンドラのリダイレクト先として使用される。
package navigation

import (
	"fmt"
	"sync"
)

// 既知のリダイレクト先パス。
const (
	// PathLogin は未認証ユーザーのリダイレクト先。
	PathLogin = "/login"
	// PathForbidden はロール不一致ユーザーのリダイレクト先。
	PathForbidden = "/forbidden"
)

// StateKeyFrom は遷移元パスを渡すナビゲーションステートのキー。
// サインイン完了後に元のページへ戻すために使用する。
const StateKeyFrom = "from"

// Navigator は画面遷移のインターフェース。
type Navigator interface {
	// Navigate はpathへ遷移する。stateには遷移先へ引き継ぐ値を渡す（nil可）。
	Navigate(path string, state map[string]string) error
	// Current は現在のパスを返す。
	Current() string
}

// Entry は遷移履歴の1エントリを表す。
type Entry struct {
	Path  string
	State map[string]string
}

// Router はインプロセスのNavigator実装。
// 現在パスと遷移履歴を保持する。UI層が実際の画面切り替えを購読する想定。
type Router struct {
	mu      sync.Mutex
	current string
	history []Entry

	// failNext はテスト用に次のNavigateを失敗させる。
	failNext bool
}

// NewRouter は初期パスを指定してRouterを生成する。
func NewRouter(initialPath string) *Router {
	if initialPath == "" {
		initialPath = "/"
	}
	return &Router{current: initialPath}
}

// Navigate はpathへ遷移し、履歴に記録する。
func (r *Router) Navigate(path string, state map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failNext {
		r.failNext = false
		return fmt.Errorf("画面遷移に失敗しました: %s", path)
	}
	if path == "" {
		return fmt.Errorf("遷移先パスが空です")
	}

	r.current = path
	r.history = append(r.history, Entry{Path: path, State: state})
	return nil
}

// Current は現在のパスを返す。
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// History は遷移履歴のコピーを返す。
func (r *Router) History() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.history))
	copy(out, r.history)
	return out
}

// FailNext は次のNavigate呼び出しを失敗させる。テスト専用。
func (r *Router) FailNext() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = true
}

// compile-time interface check
var _ Navigator = (*Router)(nil)
