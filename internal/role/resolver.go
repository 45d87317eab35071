// Package role はユーザーロールの解決とキャッシュを提供する。
// 同一メールアドレスへの取得リクエストを重複排除し、結果を保持する。
package role

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/fitgate/internal/metrics"
	"github.com/hitoshi/fitgate/internal/model"
)

// Fetcher はロール取得APIのインターフェイス。
type Fetcher interface {
	FetchRole(ctx context.Context, email string) (model.Role, error)
}

// State はあるメールアドレスのロール解決状態のスナップショット。
// Done がfalseの間は解決中であり、ロールもエラーも確定していない。
type State struct {
	Role model.Role
	Err  error
	Done bool
}

// Resolver はロールの解決・キャッシュ・再取得を担う。
// キャッシュはメールアドレス単位で保持され、取得結果は取得を開始した
// メールアドレスにのみ反映される。途中でユーザーが切り替わっても
// 古い取得結果が新しいユーザーに適用されることはない。
type Resolver struct {
	fetcher Fetcher
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]State
}

// NewResolver はResolver の新しいインスタンスを生成する。
func NewResolver(fetcher Fetcher, m metrics.MetricsCollector, logger *slog.Logger) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		metrics: m,
		logger:  logger,
		cache:   make(map[string]State),
	}
}

// State は指定メールアドレスの現在の解決状態を返す。取得は行わない。
func (r *Resolver) State(email string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache[email]
}

// Resolve は指定メールアドレスのロールを返す。
// キャッシュ済みの結果（エラーを含む）があればそれを返し、なければ取得する。
// 同一メールアドレスへの同時呼び出しは1リクエストにまとめられる。
// 取得エラーはRefetch されるまで保持される（リトライの嵐を防ぐ）。
func (r *Resolver) Resolve(ctx context.Context, email string) (model.Role, error) {
	r.mu.Lock()
	if state, ok := r.cache[email]; ok && state.Done {
		r.mu.Unlock()
		return state.Role, state.Err
	}
	r.mu.Unlock()

	return r.doFetch(ctx, email)
}

func (r *Resolver) doFetch(ctx context.Context, email string) (model.Role, error) {
	result, err, _ := r.group.Do(email, func() (any, error) {
		return r.fetch(ctx, email)
	})
	fetched, _ := result.(model.Role)
	return fetched, err
}

// fetch はロールを取得し、結果を取得開始時のメールアドレスでキャッシュする。
// 取得失敗時は前回のロール値を保持したままエラーを記録する。
// 呼び出し側のキャンセルは取得結果ではないため、状態としてキャッシュしない。
func (r *Resolver) fetch(ctx context.Context, email string) (model.Role, error) {
	fetched, err := r.fetcher.FetchRole(ctx, email)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}

	r.mu.Lock()
	if err != nil {
		fetched = r.cache[email].Role
	}
	r.cache[email] = State{Role: fetched, Err: err, Done: true}
	r.mu.Unlock()

	if err != nil {
		r.metrics.RecordRoleFetch(fetchResult(err))
		r.logger.Warn("ロールの解決に失敗しました",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return fetched, err
	}

	r.metrics.RecordRoleFetch("success")
	r.logger.Info("ロールを解決しました",
		slog.String("email", email),
		slog.String("role", fetched.String()),
	)
	return fetched, nil
}

// Refetch はキャッシュの有無にかかわらず再取得する。
// 取得エラー後のユーザー操作による再試行や、管理操作でロールが
// 変更された後の反映に使用する。前回のロール値は取得完了まで保持される。
func (r *Resolver) Refetch(ctx context.Context, email string) (model.Role, error) {
	return r.doFetch(ctx, email)
}

// Invalidate は指定メールアドレスのキャッシュを破棄する。
func (r *Resolver) Invalidate(email string) {
	r.mu.Lock()
	delete(r.cache, email)
	r.mu.Unlock()
}

// InvalidateAll は全てのキャッシュを破棄する。サインアウト時に呼び出す。
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]State)
	r.mu.Unlock()
}

// fetchResult はエラーをメトリクスの結果ラベルに変換する。
func fetchResult(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUnknownRole {
		return "unknown_role"
	}
	return "error"
}
