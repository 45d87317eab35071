// Package session は認証済みセッションの単一情報源を提供する。
// 「誰がログインしているか」と「そのユーザーを表すトークン」を所有し、
// IDプロバイダーを抽象化する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/fitgate/internal/idp"
	"github.com/hitoshi/fitgate/internal/model"
	"github.com/hitoshi/fitgate/internal/security"
	"github.com/hitoshi/fitgate/internal/tokenstore"
)

// Listener はIdentity変更の購読コールバック。
// サインイン・サインアウト・トークンリフレッシュのたびに現在のIdentity
// （未認証の場合はnil）を受け取る。
type Listener func(ident *model.Identity)

// SocialAuthenticator はソーシャルログインフローのインターフェース。
// idp.SocialFlowの部分集合として定義する。
type SocialAuthenticator interface {
	LoginURL(state string) string
	WaitForCode(ctx context.Context, state string) (string, error)
	Exchange(ctx context.Context, code string) (string, error)
}

// Config はStoreの設定。
type Config struct {
	// RefreshMargin はトークン有効期限のどれだけ前にリフレッシュするか。
	RefreshMargin time.Duration
}

// Store はセッションの単一情報源。
// Identity・ベアラートークン・ローディングフラグを所有する。
// Identityの書き込みはStoreのメソッドのみが行い、読み取り側は
// Snapshotで取得した値を変更してはならない。
type Store struct {
	provider  idp.Provider
	social    SocialAuthenticator
	tokens    tokenstore.Store
	guard     security.PhotoGuardService
	sanitizer security.NameSanitizerService
	logger    *slog.Logger
	config    Config

	mu           sync.Mutex
	identity     *model.Identity
	token        string
	refreshToken string
	expiresAt    time.Time
	loading      bool
	settled      bool
	closed       bool

	listeners  map[int]Listener
	nextListID int

	refreshTimer *time.Timer
}

// NewStore はStoreを生成する。
// loadingはtrueで始まり、Startによる初回確定まで維持される。
func NewStore(
	provider idp.Provider,
	social SocialAuthenticator,
	tokens tokenstore.Store,
	guard security.PhotoGuardService,
	sanitizer security.NameSanitizerService,
	logger *slog.Logger,
	config Config,
) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RefreshMargin <= 0 {
		config.RefreshMargin = 5 * time.Minute
	}
	return &Store{
		provider:  provider,
		social:    social,
		tokens:    tokens,
		guard:     guard,
		sanitizer: sanitizer,
		logger:    logger,
		config:    config,
		loading:   true,
		listeners: make(map[int]Listener),
	}
}

// Start は保存済みの認証情報からセッションを復元する。
// 認証情報が存在すればリフレッシュを試み、成功でIdentityを確定する。
// 失敗または認証情報なしの場合は未認証として確定する。
// いずれの場合も購読リスナーは必ず1回以上呼ばれる。
func (s *Store) Start(ctx context.Context) error {
	cred, err := s.tokens.Load()
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNotFound) {
			s.logger.Warn("保存済み認証情報の読み込みに失敗しました",
				slog.String("error", err.Error()),
			)
		}
		s.setIdentity(nil, "", "", time.Time{})
		return nil
	}

	// 保存済みトークンは期限切れの可能性があるため必ずリフレッシュする
	refreshed, err := s.provider.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		s.logger.Info("セッションの復元に失敗しました。再ログインが必要です",
			slog.String("email", cred.Email),
			slog.String("error", err.Error()),
		)
		if clearErr := s.tokens.Clear(); clearErr != nil {
			s.logger.Warn("認証情報の破棄に失敗しました", slog.String("error", clearErr.Error()))
		}
		s.setIdentity(nil, "", "", time.Time{})
		return nil
	}

	s.applyCredential(refreshed)
	s.logger.Info("セッションを復元しました",
		slog.String("email", refreshed.Identity.Email),
	)
	return nil
}

// Close は購読とリフレッシュタイマーを破棄する。プロセス終了時に呼ぶ。
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	s.listeners = make(map[int]Listener)
}

// Subscribe はIdentity変更の購読リスナーを登録し、解除関数を返す。
// 既にセッションが確定済みの場合は現在のIdentityで即座に1回呼ばれる
// （起動時の少なくとも1回の配信保証）。
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextListID
	s.nextListID++
	s.listeners[id] = fn
	settled := s.settled
	ident := s.identity
	s.mu.Unlock()

	if settled {
		fn(ident)
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Snapshot は現在のセッションのスナップショットを返す。
// 返り値は読み取り専用として扱うこと。
func (s *Store) Snapshot() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Session{
		Identity: s.identity,
		Token:    s.token,
		Loading:  s.loading,
	}
}

// CreateAccount はメールアドレスとパスワードで新規アカウントを作成する。
// 呼び出し中はloading=trueとなり、成功時は購読リスナー経由でIdentityが供給される。
// 失敗時はloadingを解除する以外のセッション状態変更を行わない。
func (s *Store) CreateAccount(ctx context.Context, email, password string) error {
	s.setLoading(true)

	cred, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		s.clearLoading()
		return err
	}

	s.applyCredential(cred)
	s.logger.Info("new account created",
		slog.String("email", cred.Identity.Email),
	)
	return nil
}

// SignIn はメールアドレスとパスワードでサインインする。
// loading契約はCreateAccountと同じ。
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	s.setLoading(true)

	cred, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		s.clearLoading()
		return err
	}

	s.applyCredential(cred)
	s.logger.Info("user signed in",
		slog.String("email", cred.Identity.Email),
	)
	return nil
}

// SignInWithSocial はソーシャルプロバイダー主導の対話的フローでサインインする。
// openURLには認証URLをユーザーに提示する関数を渡す（ブラウザ起動等）。
// ユーザーがフローを中断した場合はセッション状態を変更せずエラーを返す。
func (s *Store) SignInWithSocial(ctx context.Context, openURL func(url string) error) error {
	if s.social == nil {
		return fmt.Errorf("ソーシャルログインが設定されていません")
	}

	s.setLoading(true)

	// 途中離脱時にコールバック待ち受けサーバーを確実に停止するため、
	// このフロー専用の子コンテキストを使う
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1. state付き認証URLを生成し、コールバック待ち受けを開始する
	state := idp.NewState()

	type waitResult struct {
		code string
		err  error
	}
	resultCh := make(chan waitResult, 1)
	go func() {
		code, err := s.social.WaitForCode(ctx, state)
		resultCh <- waitResult{code: code, err: err}
	}()

	// 2. 認証URLをユーザーに提示する
	if err := openURL(s.social.LoginURL(state)); err != nil {
		s.clearLoading()
		return fmt.Errorf("認証URLを開けませんでした: %w", err)
	}

	// 3. 認可コードの到着を待つ
	result := <-resultCh
	if result.err != nil {
		s.clearLoading()
		return result.err
	}

	// 4. 認可コード → ソーシャルアクセストークン → IdP認証情報
	accessToken, err := s.social.Exchange(ctx, result.code)
	if err != nil {
		s.clearLoading()
		return err
	}

	cred, err := s.provider.SignInWithIdp(ctx, accessToken)
	if err != nil {
		s.clearLoading()
		return err
	}

	s.applyCredential(cred)
	s.logger.Info("user signed in with social provider",
		slog.String("email", cred.Identity.Email),
	)
	return nil
}

// SignOut はプロバイダーのセッションを無効化し、購読リスナーにnil Identityを配信する。
// 永続化されたベアラートークンの破棄は呼び出し側の責務
// （CLIのlogoutコマンドおよび認可エラーハンドラが行う）。
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	refreshToken := s.refreshToken
	email := ""
	if s.identity != nil {
		email = s.identity.Email
	}
	s.mu.Unlock()

	// 失効はベストエフォート。失敗してもローカル状態は破棄する。
	if refreshToken != "" {
		if err := s.provider.Revoke(ctx, refreshToken); err != nil {
			s.logger.Warn("リフレッシュトークンの失効に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}

	s.setIdentity(nil, "", "", time.Time{})
	s.logger.Info("user signed out", slog.String("email", email))
	return nil
}

// UpdateProfile は現在のIdentityのプロバイダー側プロフィールを更新する。
// 表示名はサニタイズし、画像URLは安全性を検証してから送信する。
// Session.Identityは変更しない。成功後の反映はReloadProfileで行うこと
// （プロフィール変更では購読コールバックが発火しないため）。
func (s *Store) UpdateProfile(ctx context.Context, patch idp.ProfilePatch) (*model.Identity, error) {
	s.mu.Lock()
	token := s.token
	ident := s.identity
	s.mu.Unlock()

	if ident == nil || token == "" {
		return nil, fmt.Errorf("サインインしていないためプロフィールを更新できません")
	}

	if patch.DisplayName != nil && s.sanitizer != nil {
		cleaned := s.sanitizer.SanitizeDisplayName(*patch.DisplayName)
		patch.DisplayName = &cleaned
	}
	if patch.PhotoURL != nil && *patch.PhotoURL != "" && s.guard != nil {
		if err := s.guard.ValidatePhotoURL(*patch.PhotoURL); err != nil {
			return nil, err
		}
	}

	updated, err := s.provider.UpdateProfile(ctx, token, patch)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReloadProfile はプロバイダーから最新のプロフィールを取得してIdentityを更新し、
// 購読リスナーに配信する。UpdateProfile成功後に呼び出し側が使用する。
func (s *Store) ReloadProfile(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	refreshToken := s.refreshToken
	expiresAt := s.expiresAt
	s.mu.Unlock()

	if token == "" {
		return fmt.Errorf("サインインしていないためプロフィールを取得できません")
	}

	ident, err := s.provider.Lookup(ctx, token)
	if err != nil {
		return err
	}

	s.setIdentity(ident, token, refreshToken, expiresAt)
	return nil
}

// setLoading はloadingフラグを立てる。呼び出し側アクションの開始時のみ使用する。
func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = v
}

// clearLoading は失敗時にloadingのみを解除する。Identityは変更しない。
func (s *Store) clearLoading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
}

// applyCredential は認証情報を適用し、永続化・リフレッシュ予約・リスナー配信を行う。
func (s *Store) applyCredential(cred *model.Credential) {
	if err := s.tokens.Save(tokenstore.Credential{
		IDToken:      cred.IDToken,
		RefreshToken: cred.RefreshToken,
		Email:        cred.Identity.Email,
		ExpiresAt:    cred.ExpiresAt,
	}); err != nil {
		// 永続化失敗はセッション自体を妨げない（次回起動時に再ログインになるだけ）
		s.logger.Warn("認証情報の永続化に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	ident := cred.Identity
	s.setIdentity(&ident, cred.IDToken, cred.RefreshToken, cred.ExpiresAt)
}

// setIdentity はIdentityとトークンを更新し、リスナーへ配信する。
// Identity/loadingの唯一の書き込み経路。
func (s *Store) setIdentity(ident *model.Identity, token, refreshToken string, expiresAt time.Time) {
	s.mu.Lock()
	s.identity = ident
	s.token = token
	s.refreshToken = refreshToken
	s.expiresAt = expiresAt
	s.loading = false
	s.settled = true

	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	if ident != nil && refreshToken != "" {
		s.scheduleRefreshLocked()
	}

	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	// デッドロック防止のためロック外で配信する
	for _, fn := range fns {
		fn(ident)
	}
}

// scheduleRefreshLocked は有効期限のRefreshMargin前にリフレッシュを予約する。
// s.muを保持した状態で呼ぶこと。
func (s *Store) scheduleRefreshLocked() {
	if s.closed {
		return
	}

	delay := time.Until(s.expiresAt) - s.config.RefreshMargin
	if delay < time.Second {
		delay = time.Second
	}
	s.refreshTimer = time.AfterFunc(delay, s.refreshNow)
}

// refreshNow はトークンをリフレッシュする。
// 失敗時はセッション失効として未認証状態へ移行する。
func (s *Store) refreshNow() {
	s.mu.Lock()
	refreshToken := s.refreshToken
	closed := s.closed
	s.mu.Unlock()

	if closed || refreshToken == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cred, err := s.provider.Refresh(ctx, refreshToken)
	if err != nil {
		s.logger.Warn("トークンのリフレッシュに失敗しました。セッションを終了します",
			slog.String("error", err.Error()),
		)
		if clearErr := s.tokens.Clear(); clearErr != nil {
			s.logger.Warn("認証情報の破棄に失敗しました", slog.String("error", clearErr.Error()))
		}
		s.setIdentity(nil, "", "", time.Time{})
		return
	}

	s.applyCredential(cred)
	s.logger.Debug("トークンをリフレッシュしました",
		slog.String("email", cred.Identity.Email),
	)
}
