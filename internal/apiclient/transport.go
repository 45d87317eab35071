package apiclient

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/fitgate/internal/metrics"
	"github.com/hitoshi/fitgate/internal/model"
)

// SessionReader は送信時点のセッション状態を読み取るためのインターフェイス。
type SessionReader interface {
	Snapshot() model.Session
}

// authTransport は送信直前にセッションからトークンを読み取り、
// Authorizationヘッダと識別用のemailヘッダを付与する。
// リクエスト作成時点ではなく送信時点の値を使う。
type authTransport struct {
	session SessionReader
	base    http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	sess := t.session.Snapshot()

	// 確定済みセッションでトークンとIdentityが揃っている場合のみ付与する。
	// 揃っていない場合は未認証のまま送信し、判断はサーバーに委ねる。
	if sess.Loading || sess.Token == "" || sess.Identity == nil {
		return t.base.RoundTrip(req)
	}

	// 元のリクエストは変更しない（RoundTripperの規約）
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+sess.Token)
	cloned.Header.Set("email", sess.Identity.Email)

	return t.base.RoundTrip(cloned)
}

// rateLimitTransport は送信レートを制限する。
// 上限超過時はコンテキストがキャンセルされるまで待機する。
type rateLimitTransport struct {
	limiter *rate.Limiter
	base    http.RoundTripper
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// loggingTransport はリクエストの結果と所要時間を記録する。
type loggingTransport struct {
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	base    http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.metrics.RecordRequestError()
		t.logger.Error("APIリクエストが失敗しました",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
			slog.Duration("duration", duration),
		)
		return nil, err
	}

	t.metrics.RecordRequest(resp.StatusCode, duration)
	t.logger.Info("APIリクエストが完了しました",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("http_status", resp.StatusCode),
		slog.Duration("duration", duration),
	)

	return resp, nil
}
