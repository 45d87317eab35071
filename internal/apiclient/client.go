// Package apiclient はバックエンドAPIへの認証付きリクエストクライアントを提供する。
// トークンの付与、レート制限、認可エラー時の強制サインアウトを一箇所に集約する。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/hitoshi/fitgate/internal/metrics"
	"github.com/hitoshi/fitgate/internal/model"
	"github.com/hitoshi/fitgate/internal/navigation"
	"github.com/hitoshi/fitgate/internal/notice"
	"github.com/hitoshi/fitgate/internal/tokenstore"
)

const (
	// noticeKeySessionExpired は再ログイン案内の重複抑止キー。
	noticeKeySessionExpired = "session-expired"
	// noticeKeyNavigationFailed は画面遷移失敗案内の重複抑止キー。
	noticeKeyNavigationFailed = "navigation-failed"
)

// SessionController は強制サインアウト時に必要なセッション操作のインターフェイス。
type SessionController interface {
	SessionReader
	SignOut(ctx context.Context) error
}

// Client はバックエンドAPI呼び出しの共有クライアント。
// 全てのAPI呼び出しはこのクライアントを経由し、401/403応答時の
// 強制サインアウト処理を一元的に実行する。
type Client struct {
	httpClient *http.Client
	baseURL    string
	session    SessionController
	tokens     tokenstore.Store
	navigator  navigation.Navigator
	notices    notice.Publisher
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// Config はClient の生成パラメータ。
type Config struct {
	BaseURL       string
	RateLimit     float64
	RateBurst     int
	Session       SessionController
	Tokens        tokenstore.Store
	Navigator     navigation.Navigator
	Notices       notice.Publisher
	Metrics       metrics.MetricsCollector
	Logger        *slog.Logger
	BaseTransport http.RoundTripper // nilの場合はhttp.DefaultTransport
}

// NewClient はClient の新しいインスタンスを生成する。
// トランスポートはレート制限→認証ヘッダ付与→ロギングの順に重ねる。
func NewClient(cfg Config) (*Client, error) {
	base := cfg.BaseTransport
	if base == nil {
		base = http.DefaultTransport
	}

	var transport http.RoundTripper = &loggingTransport{
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		base:    base,
	}
	transport = &authTransport{
		session: cfg.Session,
		base:    transport,
	}
	transport = &rateLimitTransport{
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		base:    transport,
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("Cookieジャーの作成に失敗しました: %w", err)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Jar:       jar,
		},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		session:   cfg.Session,
		tokens:    cfg.Tokens,
		navigator: cfg.Navigator,
		notices:   cfg.Notices,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

// Do はリクエストを実行し、401/403応答時は強制サインアウト処理を行う。
// 強制サインアウト後も元のレスポンスはそのまま呼び出し元に返す。
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.handleAuthFailure(req.Context(), resp.StatusCode)
	}

	return resp, nil
}

// handleAuthFailure は認可エラー時の強制サインアウトを実行する。
// 1. セッションをサインアウト
// 2. ログイン画面へ遷移（ループ防止付き）
// 3. 保存済みトークンを破棄
// 4. 再ログイン案内を一度だけ表示
func (c *Client) handleAuthFailure(ctx context.Context, statusCode int) {
	c.metrics.RecordAuthFailure(statusCode)
	c.metrics.RecordForcedSignOut()
	c.logger.Warn("認可エラーのため強制サインアウトします",
		slog.Int("http_status", statusCode),
	)

	// 1. セッションのサインアウト（失敗しても後続処理は継続する）
	if err := c.session.SignOut(ctx); err != nil {
		c.logger.Error("強制サインアウトに失敗しました",
			slog.String("error", err.Error()),
		)
	}

	// 2. ログイン画面への遷移。すでにログイン画面にいる場合と
	// セッション復元中の場合は遷移しない（リダイレクトループ防止）
	if c.navigator.Current() != navigation.PathLogin && !c.session.Snapshot().Loading {
		if err := c.navigator.Navigate(navigation.PathLogin, nil); err != nil {
			c.logger.Error("ログイン画面への遷移に失敗しました",
				slog.String("error", err.Error()),
			)
			c.notices.PublishOnce(noticeKeyNavigationFailed, notice.LevelError,
				"画面の切り替えに失敗しました。サポートへお問い合わせください")
		}
	}

	// 3. 保存済みトークンの破棄
	if err := c.tokens.Clear(); err != nil {
		c.logger.Error("保存済みトークンの破棄に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	// 4. 再ログイン案内（同一キーは一度だけ表示される）
	c.notices.PublishOnce(noticeKeySessionExpired, notice.LevelWarn,
		"セッションの有効期限が切れました。もう一度ログインしてください")
}

// Get は相対パスへのGETリクエストを実行する。
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	return c.Do(req)
}

// GetJSON は相対パスへGETリクエストを実行し、レスポンスJSONをoutにデコードする。
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

// PostJSON は相対パスへJSONボディ付きのPOSTリクエストを実行し、
// レスポンスJSONをoutにデコードする。outがnilの場合はボディを読み捨てる。
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("リクエストJSONのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

// checkStatus は2xx以外のステータスをエラーに変換する。
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.NewSessionExpiredError()
	default:
		return fmt.Errorf("APIがステータス %d を返しました", resp.StatusCode)
	}
}
