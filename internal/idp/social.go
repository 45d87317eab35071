package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/fitgate/internal/model"
)

// SocialConfig はソーシャルログインフローの設定。
type SocialConfig struct {
	ClientID     string
	ClientSecret string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string

	// CallbackPort はループバックコールバックサーバーの待ち受けポート。
	CallbackPort string
}

// SocialFlow は認可コードフローによるソーシャルログインを提供する。
// ブラウザで認証URLを開き、ループバックサーバーでリダイレクトを受け取り、
// 認可コードをソーシャルプロバイダーのアクセストークンへ交換する。
type SocialFlow struct {
	config     SocialConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSocialFlow はSocialFlowを生成する。
func NewSocialFlow(config SocialConfig, httpClient *http.Client, logger *slog.Logger) *SocialFlow {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SocialFlow{config: config, httpClient: httpClient, logger: logger}
}

// NewState はCSRF防止用のstateトークンを生成する。
func NewState() string {
	return uuid.New().String()
}

// redirectURI はループバックコールバックのリダイレクトURIを返す。
func (f *SocialFlow) redirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%s/callback", f.config.CallbackPort)
}

// LoginURL はソーシャルプロバイダーの認証URLを生成する。
// スコープにはemail, profileを含む。
func (f *SocialFlow) LoginURL(state string) string {
	params := url.Values{
		"client_id":     {f.config.ClientID},
		"redirect_uri":  {f.redirectURI()},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
	}
	return f.config.AuthURL + "?" + params.Encode()
}

// WaitForCode はループバックサーバーを起動し、認可コードの到着を待つ。
// stateが一致しないコールバックは拒否する。
// コンテキストがキャンセルされた場合（ユーザー中断）はPOPUP_CANCELLEDエラーを返す。
func (f *SocialFlow) WaitForCode(ctx context.Context, state string) (string, error) {
	type callbackResult struct {
		code string
		err  error
	}
	resultCh := make(chan callbackResult, 1)

	r := chi.NewRouter()
	r.Get("/callback", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()

		// 1. stateの検証
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("stateトークンが一致しません")}:
			default:
			}
			return
		}

		// 2. プロバイダー側エラー（ユーザーが拒否した場合のaccess_denied等）
		if errCode := q.Get("error"); errCode != "" {
			fmt.Fprintln(w, "ログインはキャンセルされました。このウィンドウを閉じてください。")
			select {
			case resultCh <- callbackResult{err: model.NewPopupCancelledError()}:
			default:
			}
			return
		}

		// 3. 認可コードの受け取り
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("コールバックに認可コードが含まれていません")}:
			default:
			}
			return
		}

		fmt.Fprintln(w, "ログインが完了しました。このウィンドウを閉じてください。")
		select {
		case resultCh <- callbackResult{code: code}:
		default:
		}
	})

	listener, err := net.Listen("tcp", "127.0.0.1:"+f.config.CallbackPort)
	if err != nil {
		return "", fmt.Errorf("コールバックサーバーの起動に失敗しました: %w", err)
	}

	server := &http.Server{Handler: r}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			f.logger.Error("コールバックサーバーが異常終了しました",
				slog.String("error", err.Error()),
			)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	select {
	case <-ctx.Done():
		// ユーザーがフローを中断した場合。セッション状態は変更しない。
		return "", model.NewPopupCancelledError()
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}
		return result.code, nil
	}
}

// socialTokenResponse はソーシャルプロバイダーのトークンエンドポイントのレスポンス。
type socialTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Exchange は認可コードをソーシャルプロバイダーのアクセストークンに交換する。
func (f *SocialFlow) Exchange(ctx context.Context, code string) (string, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {f.config.ClientID},
		"client_secret": {f.config.ClientSecret},
		"redirect_uri":  {f.redirectURI()},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("トークンリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("トークンリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("トークンレスポンスの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("トークン交換がステータス %d で失敗しました: %s", resp.StatusCode, string(body))
	}

	var tokenResp socialTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("トークンレスポンスのパースに失敗しました: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("トークンレスポンスにアクセストークンが含まれていません")
	}

	return tokenResp.AccessToken, nil
}
