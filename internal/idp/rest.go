package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/fitgate/internal/model"
)

// IdPのエラーコード。レスポンスボディのerror.messageに含まれる。
const (
	errEmailExists       = "EMAIL_EXISTS"
	errInvalidCredential = "INVALID_LOGIN_CREDENTIALS"
	errInvalidPassword   = "INVALID_PASSWORD"
	errEmailNotFound     = "EMAIL_NOT_FOUND"
	errWeakPassword      = "WEAK_PASSWORD"
	errTokenExpired      = "TOKEN_EXPIRED"
	errInvalidRefresh    = "INVALID_REFRESH_TOKEN"
)

// RESTConfig はRESTProviderの設定。
type RESTConfig struct {
	// BaseURL はアカウント系エンドポイントのベースURL。
	BaseURL string
	// APIKey はIdPのAPIキー。全リクエストのクエリパラメータとして付与する。
	APIKey string
	// TokenURL はトークンリフレッシュエンドポイント。未指定の場合はBaseURL+"/token"。
	TokenURL string
}

// RESTProvider はREST APIベースのIDプロバイダー実装。
type RESTProvider struct {
	config     RESTConfig
	httpClient *http.Client
}

// NewRESTProvider はRESTProviderを生成する。
// httpClientがnilの場合はタイムアウト付きのデフォルトクライアントを使用する。
func NewRESTProvider(config RESTConfig, httpClient *http.Client) *RESTProvider {
	if config.TokenURL == "" {
		config.TokenURL = strings.TrimSuffix(config.BaseURL, "/") + "/token"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &RESTProvider{config: config, httpClient: httpClient}
}

// accountResponse はアカウント系エンドポイントの共通レスポンス。
type accountResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
}

// tokenResponse はトークンリフレッシュエンドポイントのレスポンス。
type tokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

// errorResponse はIdPのエラーレスポンス。
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SignUp はメールアドレスとパスワードで新規アカウントを作成する。
func (p *RESTProvider) SignUp(ctx context.Context, email, password string) (*model.Credential, error) {
	payload := map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}
	var resp accountResponse
	if err := p.postAccounts(ctx, "signUp", payload, &resp); err != nil {
		return nil, err
	}
	return p.toCredential(resp)
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (p *RESTProvider) SignInWithPassword(ctx context.Context, email, password string) (*model.Credential, error) {
	payload := map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}
	var resp accountResponse
	if err := p.postAccounts(ctx, "signInWithPassword", payload, &resp); err != nil {
		return nil, err
	}
	return p.toCredential(resp)
}

// SignInWithIdp はソーシャルプロバイダーのアクセストークンでサインインする。
// 未登録のメールアドレスの場合はIdP側でアカウントが自動作成される。
func (p *RESTProvider) SignInWithIdp(ctx context.Context, accessToken string) (*model.Credential, error) {
	payload := map[string]any{
		"postBody":          "access_token=" + accessToken + "&providerId=google.com",
		"requestUri":        "http://localhost",
		"returnSecureToken": true,
	}
	var resp accountResponse
	if err := p.postAccounts(ctx, "signInWithIdp", payload, &resp); err != nil {
		return nil, err
	}
	return p.toCredential(resp)
}

// Refresh はリフレッシュトークンで新しい認証情報を取得する。
func (p *RESTProvider) Refresh(ctx context.Context, refreshToken string) (*model.Credential, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	reqURL := p.config.TokenURL + "?key=" + url.QueryEscape(p.config.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("リフレッシュリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := p.do(req)
	if err != nil {
		return nil, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("リフレッシュレスポンスのパースに失敗しました: %w", err)
	}
	if resp.IDToken == "" {
		return nil, fmt.Errorf("リフレッシュレスポンスにIDトークンが含まれていません")
	}

	// リフレッシュ後のIdentityはIDトークンのクレームから復元する
	cred := &model.Credential{
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiryFromToken(resp.IDToken, resp.ExpiresIn),
	}
	if ident, err := p.Lookup(ctx, resp.IDToken); err == nil {
		cred.Identity = *ident
	} else {
		return nil, fmt.Errorf("リフレッシュ後のユーザー情報取得に失敗しました: %w", err)
	}
	return cred, nil
}

// UpdateProfile は表示名・プロフィール画像URLを更新する。
func (p *RESTProvider) UpdateProfile(ctx context.Context, idToken string, patch ProfilePatch) (*model.Identity, error) {
	payload := map[string]any{
		"idToken":           idToken,
		"returnSecureToken": false,
	}
	if patch.DisplayName != nil {
		payload["displayName"] = *patch.DisplayName
	}
	if patch.PhotoURL != nil {
		payload["photoUrl"] = *patch.PhotoURL
	}

	var resp accountResponse
	if err := p.postAccounts(ctx, "update", payload, &resp); err != nil {
		return nil, err
	}
	return &model.Identity{
		Email:          resp.Email,
		DisplayName:    resp.DisplayName,
		PhotoURL:       resp.PhotoURL,
		ProviderUserID: resp.LocalID,
	}, nil
}

// lookupResponse はlookupエンドポイントのレスポンス。
type lookupResponse struct {
	Users []struct {
		LocalID     string `json:"localId"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		PhotoURL    string `json:"photoUrl"`
	} `json:"users"`
}

// Lookup はIDトークンから現在のIdentityを取得する。
func (p *RESTProvider) Lookup(ctx context.Context, idToken string) (*model.Identity, error) {
	payload := map[string]any{"idToken": idToken}

	body, err := p.postAccountsRaw(ctx, "lookup", payload)
	if err != nil {
		return nil, err
	}

	var resp lookupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("lookupレスポンスのパースに失敗しました: %w", err)
	}
	if len(resp.Users) == 0 {
		return nil, fmt.Errorf("lookupレスポンスにユーザーが含まれていません")
	}

	u := resp.Users[0]
	return &model.Identity{
		Email:          u.Email,
		DisplayName:    u.DisplayName,
		PhotoURL:       u.PhotoURL,
		ProviderUserID: u.LocalID,
	}, nil
}

// Revoke はリフレッシュトークンを無効化する。
func (p *RESTProvider) Revoke(ctx context.Context, refreshToken string) error {
	payload := map[string]any{"refreshToken": refreshToken}
	_, err := p.postAccountsRaw(ctx, "revoke", payload)
	return err
}

// postAccounts はアカウント系エンドポイントへPOSTし、結果をoutへデコードする。
func (p *RESTProvider) postAccounts(ctx context.Context, action string, payload map[string]any, out *accountResponse) error {
	body, err := p.postAccountsRaw(ctx, action, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("IdPレスポンスのパースに失敗しました: %w", err)
	}
	return nil
}

// postAccountsRaw はアカウント系エンドポイントへPOSTし、レスポンスボディを返す。
func (p *RESTProvider) postAccountsRaw(ctx context.Context, action string, payload map[string]any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
	}

	reqURL := fmt.Sprintf("%s/accounts:%s?key=%s",
		strings.TrimSuffix(p.config.BaseURL, "/"), action, url.QueryEscape(p.config.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("IdPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return p.do(req)
}

// do はリクエストを実行し、エラーレスポンスをドメインエラーへ変換する。
func (p *RESTProvider) do(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, model.NewProviderOutageError(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("IdPレスポンスの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapProviderError(resp.StatusCode, body)
	}
	return body, nil
}

// mapProviderError はIdPのエラーレスポンスをドメインエラーへ変換する。
func mapProviderError(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return fmt.Errorf("IdPがステータス %d を返しました: %s", statusCode, string(body))
	}

	// エラーメッセージは "EMAIL_EXISTS : description" 形式の場合があるためコード部分のみ取り出す
	code := errResp.Error.Message
	if idx := strings.IndexByte(code, ' '); idx > 0 {
		code = code[:idx]
	}

	switch code {
	case errEmailExists:
		return model.NewEmailInUseError("")
	case errInvalidCredential, errInvalidPassword, errEmailNotFound:
		return model.NewInvalidCredentialError()
	case errWeakPassword:
		return model.NewWeakPasswordError()
	case errTokenExpired, errInvalidRefresh:
		return model.NewSessionExpiredError()
	default:
		return fmt.Errorf("IdPがエラーを返しました [%d]: %s", statusCode, errResp.Error.Message)
	}
}

// toCredential はアカウントレスポンスをCredentialへ変換する。
func (p *RESTProvider) toCredential(resp accountResponse) (*model.Credential, error) {
	if resp.IDToken == "" {
		return nil, fmt.Errorf("IdPレスポンスにIDトークンが含まれていません")
	}
	return &model.Credential{
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiryFromToken(resp.IDToken, resp.ExpiresIn),
		Identity: model.Identity{
			Email:          resp.Email,
			DisplayName:    resp.DisplayName,
			PhotoURL:       resp.PhotoURL,
			ProviderUserID: resp.LocalID,
		},
	}, nil
}

// expiryFromToken はIDトークンの有効期限を決定する。
// JWTのexpクレームを優先し（署名検証はIdPの責務のためここでは行わない）、
// パースできない場合はexpiresInフィールドから計算する。
func expiryFromToken(idToken, expiresIn string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(idToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	if secs, err := strconv.Atoi(expiresIn); err == nil && secs > 0 {
		return time.Now().Add(time.Duration(secs) * time.Second)
	}

	// どちらも取れない場合は短めの既定値で早期リフレッシュさせる
	return time.Now().Add(30 * time.Minute)
}

// compile-time interface check
var _ Provider = (*RESTProvider)(nil)
