// Package app はアプリケーションの起動と依存関係のワイヤリングを担う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/fitgate/internal/api"
	"github.com/hitoshi/fitgate/internal/apiclient"
	"github.com/hitoshi/fitgate/internal/config"
	"github.com/hitoshi/fitgate/internal/guard"
	"github.com/hitoshi/fitgate/internal/idp"
	"github.com/hitoshi/fitgate/internal/logger"
	"github.com/hitoshi/fitgate/internal/metrics"
	"github.com/hitoshi/fitgate/internal/navigation"
	"github.com/hitoshi/fitgate/internal/notice"
	"github.com/hitoshi/fitgate/internal/role"
	"github.com/hitoshi/fitgate/internal/security"
	"github.com/hitoshi/fitgate/internal/session"
	"github.com/hitoshi/fitgate/internal/tokenstore"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで実行する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, rest := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("METRICS_PORT")
		if port == "" {
			port = "9090"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(os.Stderr)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("api_base_url", cfg.APIBaseURL),
	)

	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case CommandLogin:
		return runLogin(ctx, w, d, rest)
	case CommandSignup:
		return runSignup(ctx, w, d, rest)
	case CommandSocialLogin:
		return runSocialLogin(ctx, w, d)
	case CommandLogout:
		return runLogout(ctx, w, d)
	case CommandProfile:
		return runProfile(ctx, w, d, rest)
	case CommandOpen:
		return runOpen(ctx, w, d, rest)
	case CommandMetrics:
		return runMetrics(d)
	default:
		return runWhoami(ctx, w, d)
	}
}

// deps はワイヤリング済みの全依存関係を保持する。
type deps struct {
	cfg       *config.Config
	registry  *prometheus.Registry
	collector *metrics.Collector
	tokens    tokenstore.Store
	store     *session.Store
	router    *navigation.Router
	notices   *notice.Center
	apiClient *api.Client
	resolver  *role.Resolver
	admitter  *guard.Admitter
}

// buildDeps は全依存関係をワイヤリングする。
func buildDeps(cfg *config.Config) (*deps, error) {
	log := slog.Default()

	// 1. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 2. 認証情報ストアの初期化
	tokens, err := tokenstore.NewFileStore(cfg.TokenFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	// 3. セキュリティサービスの初期化
	photoGuard := security.NewPhotoGuard()
	sanitizer := security.NewNameSanitizer()

	// 4. IdPクライアントの初期化
	idpClient := &http.Client{Timeout: cfg.RequestTimeout}
	provider := idp.NewRESTProvider(idp.RESTConfig{
		BaseURL: cfg.IDPBaseURL,
		APIKey:  cfg.IDPAPIKey,
	}, idpClient)
	socialFlow := idp.NewSocialFlow(idp.SocialConfig{
		ClientID:     cfg.SocialClientID,
		ClientSecret: cfg.SocialClientSecret,
		AuthURL:      cfg.SocialAuthURL,
		TokenURL:     cfg.SocialTokenURL,
		CallbackPort: cfg.SocialCallbackPort,
	}, idpClient, log)

	// 5. セッションストアの初期化
	store := session.NewStore(provider, socialFlow, tokens, photoGuard, sanitizer, log,
		session.Config{RefreshMargin: cfg.RefreshMargin})

	// 6. ナビゲーションと通知の初期化
	router := navigation.NewRouter("/")
	notices := notice.NewCenter()

	// 7. API共有クライアントの初期化
	httpClient, err := apiclient.NewClient(apiclient.Config{
		BaseURL:   cfg.APIBaseURL,
		RateLimit: cfg.RateLimitAPI,
		RateBurst: cfg.RateLimitBurst,
		Session:   store,
		Tokens:    tokens,
		Navigator: router,
		Notices:   notices,
		Metrics:   collector,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}

	// 8. 型付きAPIクライアントとロールリゾルバの初期化
	apiClient := api.NewClient(httpClient, log)
	resolver := role.NewResolver(apiClient, collector, log)

	// 9. ガードの初期化
	admitter := guard.NewAdmitter(router, log)

	return &deps{
		cfg:       cfg,
		registry:  registry,
		collector: collector,
		tokens:    tokens,
		store:     store,
		router:    router,
		notices:   notices,
		apiClient: apiClient,
		resolver:  resolver,
		admitter:  admitter,
	}, nil
}

// runLogin はメール・パスワードでサインインする。
func runLogin(ctx context.Context, w io.Writer, d *deps, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: fitgate login <email> <password>")
	}

	if err := d.store.SignIn(ctx, args[0], args[1]); err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	d.collector.RecordSignIn("password")
	// サインイン成功後は次回の認可エラーを再び通知できるようにする
	d.notices.Reset()

	sess := d.store.Snapshot()
	fmt.Fprintf(w, "signed in as %s\n", sess.Identity.Email)
	return nil
}

// runSignup は新規アカウントを作成してサインインする。
func runSignup(ctx context.Context, w io.Writer, d *deps, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: fitgate signup <email> <password>")
	}

	if err := d.store.CreateAccount(ctx, args[0], args[1]); err != nil {
		return fmt.Errorf("sign-up failed: %w", err)
	}
	d.collector.RecordSignIn("signup")
	d.notices.Reset()

	sess := d.store.Snapshot()
	fmt.Fprintf(w, "account created: %s\n", sess.Identity.Email)
	return nil
}

// runSocialLogin はソーシャルプロバイダー経由でサインインする。
// 認証URLを表示し、ユーザーがブラウザで承認するのを待つ。
func runSocialLogin(ctx context.Context, w io.Writer, d *deps) error {
	openURL := func(url string) error {
		fmt.Fprintf(w, "open this URL in your browser:\n%s\n", url)
		return nil
	}

	if err := d.store.SignInWithSocial(ctx, openURL); err != nil {
		return fmt.Errorf("social sign-in failed: %w", err)
	}
	d.collector.RecordSignIn("social")
	d.notices.Reset()

	sess := d.store.Snapshot()
	fmt.Fprintf(w, "signed in as %s\n", sess.Identity.Email)
	return nil
}

// runLogout はサインアウトし、保存済み認証情報を破棄する。
func runLogout(ctx context.Context, w io.Writer, d *deps) error {
	if err := d.store.Start(ctx); err != nil {
		return fmt.Errorf("session restore failed: %w", err)
	}

	if err := d.store.SignOut(ctx); err != nil {
		return fmt.Errorf("sign-out failed: %w", err)
	}
	d.resolver.InvalidateAll()

	if err := d.tokens.Clear(); err != nil {
		slog.Warn("保存済み認証情報の破棄に失敗しました", slog.String("error", err.Error()))
	}

	fmt.Fprintln(w, "signed out")
	return nil
}

// runWhoami は現在のセッションとロールを表示する。
func runWhoami(ctx context.Context, w io.Writer, d *deps) error {
	if err := d.store.Start(ctx); err != nil {
		return fmt.Errorf("session restore failed: %w", err)
	}

	sess := d.store.Snapshot()
	if !sess.Authenticated() {
		fmt.Fprintln(w, "not signed in")
		return nil
	}

	fmt.Fprintf(w, "email: %s\n", sess.Identity.Email)
	if sess.Identity.DisplayName != "" {
		fmt.Fprintf(w, "name: %s\n", sess.Identity.DisplayName)
	}

	userRole, err := d.resolver.Resolve(ctx, sess.Identity.Email)
	if err != nil {
		fmt.Fprintln(w, "role: unavailable")
		return nil
	}
	fmt.Fprintf(w, "role: %s\n", userRole)
	return nil
}

// runProfile はプロフィール（表示名・写真URL）を更新する。
// 引数は name=<表示名> photo=<URL> の形式で指定する。
func runProfile(ctx context.Context, w io.Writer, d *deps, args []string) error {
	if err := d.store.Start(ctx); err != nil {
		return fmt.Errorf("session restore failed: %w", err)
	}
	if !d.store.Snapshot().Authenticated() {
		return fmt.Errorf("not signed in")
	}

	patch := idp.ProfilePatch{}
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "name="):
			v := strings.TrimPrefix(arg, "name=")
			patch.DisplayName = &v
		case strings.HasPrefix(arg, "photo="):
			v := strings.TrimPrefix(arg, "photo=")
			patch.PhotoURL = &v
		default:
			return fmt.Errorf("usage: fitgate profile [name=<表示名>] [photo=<URL>]")
		}
	}
	if patch.DisplayName == nil && patch.PhotoURL == nil {
		return fmt.Errorf("usage: fitgate profile [name=<表示名>] [photo=<URL>]")
	}

	ident, err := d.store.UpdateProfile(ctx, patch)
	if err != nil {
		return fmt.Errorf("profile update failed: %w", err)
	}

	fmt.Fprintf(w, "profile updated: %s\n", ident.Email)
	return nil
}

// runOpen は保護対象画面への入場判定を実行する。
// セッションとロールを解決してからガードを評価し、判定結果を表示する。
func runOpen(ctx context.Context, w io.Writer, d *deps, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fitgate open <path>")
	}
	path := args[0]

	if err := d.store.Start(ctx); err != nil {
		return fmt.Errorf("session restore failed: %w", err)
	}

	sess := d.store.Snapshot()
	var roleState role.State
	if sess.Authenticated() {
		_, _ = d.resolver.Resolve(ctx, sess.Identity.Email)
		roleState = d.resolver.State(sess.Identity.Email)
	}

	decision := d.admitter.Admit(guardForPath(path), path, sess, roleState)
	switch decision.Outcome {
	case guard.OutcomeAdmitted:
		fmt.Fprintf(w, "admitted: %s\n", path)
	case guard.OutcomeDenied:
		fmt.Fprintf(w, "denied: %s -> %s\n", path, decision.RedirectPath)
	default:
		fmt.Fprintf(w, "pending: %s\n", path)
	}

	// 拒否時に発生した通知を表示する
	for _, n := range d.notices.Drain() {
		fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Message)
	}
	return nil
}

// guardForPath はパスに対応するガードを返す。
func guardForPath(path string) *guard.Guard {
	switch {
	case strings.HasPrefix(path, "/admin"):
		return guard.AdminOnly()
	case strings.HasPrefix(path, "/trainer"):
		return guard.TrainerOnly()
	case strings.HasPrefix(path, "/member"):
		return guard.MemberOnly()
	case strings.HasPrefix(path, "/staff"):
		return guard.AdminOrTrainer()
	default:
		return guard.RequireAuthenticated()
	}
}

// runMetrics はメトリクスエンドポイントを起動する。
// /metrics と /health を提供し、SIGINT/SIGTERMでグレースフルシャットダウンする。
func runMetrics(d *deps) error {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(d.registry))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         ":" + d.cfg.MetricsPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("metrics server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down metrics server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("metrics server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
