package apiclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/fitgate/internal/model"
	"github.com/hitoshi/fitgate/internal/navigation"
	"github.com/hitoshi/fitgate/internal/notice"
	"github.com/hitoshi/fitgate/internal/tokenstore"
)

// --- モック定義 ---

// mockSessionController はSessionController のモック実装。
type mockSessionController struct {
	mu           sync.Mutex
	snapshotFunc func() model.Session
	signOutFunc  func(ctx context.Context) error
	signOutCalls int
}

func (m *mockSessionController) Snapshot() model.Session {
	return m.snapshotFunc()
}

func (m *mockSessionController) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.signOutCalls++
	m.mu.Unlock()
	if m.signOutFunc != nil {
		return m.signOutFunc(ctx)
	}
	return nil
}

func (m *mockSessionController) signOutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signOutCalls
}

// stubMetrics はMetricsCollector の記録用スタブ。
type stubMetrics struct {
	mu             sync.Mutex
	requests       int
	errors         int
	authFailures   []int
	forcedSignOuts int
	roleFetches    []string
	signInMethods  []string
}

func (s *stubMetrics) RecordRequest(statusCode int, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
}

func (s *stubMetrics) RecordRequestError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

func (s *stubMetrics) RecordAuthFailure(statusCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authFailures = append(s.authFailures, statusCode)
}

func (s *stubMetrics) RecordRoleFetch(result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleFetches = append(s.roleFetches, result)
}

func (s *stubMetrics) RecordSignIn(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signInMethods = append(s.signInMethods, method)
}

func (s *stubMetrics) RecordForcedSignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcedSignOuts++
}

// コンパイル時のインターフェイス実装チェック
var _ SessionController = (*mockSessionController)(nil)

// --- テストヘルパー ---

type clientFixture struct {
	client    *Client
	session   *mockSessionController
	tokens    *tokenstore.MemoryStore
	navigator *navigation.Router
	notices   *notice.Center
	metrics   *stubMetrics
}

func newClientFixture(t *testing.T, serverURL string, session *mockSessionController) *clientFixture {
	t.Helper()

	tokens := tokenstore.NewMemoryStore()
	navigator := navigation.NewRouter("/dashboard")
	notices := notice.NewCenter()
	m := &stubMetrics{}

	client, err := NewClient(Config{
		BaseURL:   serverURL,
		RateLimit: 100,
		RateBurst: 100,
		Session:   session,
		Tokens:    tokens,
		Navigator: navigator,
		Notices:   notices,
		Metrics:   m,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	return &clientFixture{
		client:    client,
		session:   session,
		tokens:    tokens,
		navigator: navigator,
		notices:   notices,
		metrics:   m,
	}
}

func authenticatedSession(token string) *mockSessionController {
	return &mockSessionController{
		snapshotFunc: func() model.Session {
			return model.Session{
				Identity: &model.Identity{Email: "member@example.com"},
				Token:    token,
				Loading:  false,
			}
		},
	}
}

// TestDo_AttachesTokenAtSendTime はトークンがリクエスト作成時ではなく
// 送信時点のセッションから読み取られることを検証する。
func TestDo_AttachesTokenAtSendTime(t *testing.T) {
	var gotAuth, gotEmail string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotEmail = r.Header.Get("email")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	token := "token-v1"
	session := &mockSessionController{
		snapshotFunc: func() model.Session {
			return model.Session{
				Identity: &model.Identity{Email: "member@example.com"},
				Token:    token,
			}
		},
	}
	f := newClientFixture(t, server.URL, session)

	// リクエストを作成してからトークンをローテーションする
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/classes", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	token = "token-v2"

	resp, err := f.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer token-v2" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer token-v2")
	}
	if gotEmail != "member@example.com" {
		t.Errorf("email header = %q, want %q", gotEmail, "member@example.com")
	}
}

// TestDo_UnchangedSession_ProducesIdenticalHeaders は同一セッションからの
// 連続リクエストが同一の認証ヘッダを持つことを検証する。
func TestDo_UnchangedSession_ProducesIdenticalHeaders(t *testing.T) {
	var auths, emails []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		emails = append(emails, r.Header.Get("email"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newClientFixture(t, server.URL, authenticatedSession("stable-token"))

	for i := 0; i < 2; i++ {
		resp, err := f.client.Get(context.Background(), "/classes")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		resp.Body.Close()
	}

	if auths[0] != auths[1] || auths[0] != "Bearer stable-token" {
		t.Errorf("auths = %v, want identical %q", auths, "Bearer stable-token")
	}
	if emails[0] != emails[1] || emails[0] != "member@example.com" {
		t.Errorf("emails = %v, want identical %q", emails, "member@example.com")
	}
}

// TestDo_NoToken_OmitsAuthorizationHeader は未認証時にAuthorizationヘッダを
// 付与しないことを検証する。
func TestDo_NoToken_OmitsAuthorizationHeader(t *testing.T) {
	var hasAuth bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasAuth = r.Header["Authorization"]
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	session := &mockSessionController{
		snapshotFunc: func() model.Session { return model.Session{} },
	}
	f := newClientFixture(t, server.URL, session)

	resp, err := f.client.Get(context.Background(), "/classes")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if hasAuth {
		t.Error("Authorization header should not be set without a token")
	}
}

// TestDo_Unauthorized_ForcesSignOut は401応答時の強制サインアウトを検証する。
// サインアウト、ログイン画面への遷移、トークン破棄、通知の全てが実行され、
// 元のレスポンスはそのまま返ること。
func TestDo_Unauthorized_ForcesSignOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	session := authenticatedSession("stale-token")
	f := newClientFixture(t, server.URL, session)
	_ = f.tokens.Save(tokenstore.Credential{IDToken: "stale-token", Email: "member@example.com"})

	resp, err := f.client.Get(context.Background(), "/bookings")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if session.signOutCount() != 1 {
		t.Errorf("SignOut calls = %d, want 1", session.signOutCount())
	}
	if f.navigator.Current() != navigation.PathLogin {
		t.Errorf("current path = %q, want %q", f.navigator.Current(), navigation.PathLogin)
	}
	if _, err := f.tokens.Load(); err != tokenstore.ErrNotFound {
		t.Errorf("persisted token should be cleared, got err = %v", err)
	}

	notices := f.notices.Drain()
	if len(notices) != 1 {
		t.Fatalf("notices = %d, want 1", len(notices))
	}
	if notices[0].Key != "session-expired" {
		t.Errorf("notice key = %q, want %q", notices[0].Key, "session-expired")
	}
}

// TestDo_Forbidden_ForcesSignOut は403応答でも強制サインアウトが実行されることを検証する。
func TestDo_Forbidden_ForcesSignOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	session := authenticatedSession("member-token")
	f := newClientFixture(t, server.URL, session)

	resp, err := f.client.Get(context.Background(), "/admin/users")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if session.signOutCount() != 1 {
		t.Errorf("SignOut calls = %d, want 1", session.signOutCount())
	}
	if len(f.metrics.authFailures) != 1 || f.metrics.authFailures[0] != 403 {
		t.Errorf("auth failures = %v, want [403]", f.metrics.authFailures)
	}
}

// TestDo_AlreadyOnLoginPage_SkipsNavigation はすでにログイン画面にいる場合に
// 再度の遷移を行わないことを検証する（リダイレクトループ防止）。
func TestDo_AlreadyOnLoginPage_SkipsNavigation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	session := authenticatedSession("stale-token")
	f := newClientFixture(t, server.URL, session)
	if err := f.navigator.Navigate(navigation.PathLogin, nil); err != nil {
		t.Fatalf("failed to navigate: %v", err)
	}
	before := len(f.navigator.History())

	resp, err := f.client.Get(context.Background(), "/bookings")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if got := len(f.navigator.History()); got != before {
		t.Errorf("history length = %d, want %d (no new navigation)", got, before)
	}
	// サインアウトとトークン破棄は遷移の有無にかかわらず実行される
	if session.signOutCount() != 1 {
		t.Errorf("SignOut calls = %d, want 1", session.signOutCount())
	}
}

// TestDo_SessionRestoring_SkipsNavigation はセッション復元中の認可エラーでは
// 遷移しないことを検証する。
func TestDo_SessionRestoring_SkipsNavigation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	session := &mockSessionController{
		snapshotFunc: func() model.Session {
			return model.Session{Token: "restoring-token", Loading: true}
		},
	}
	f := newClientFixture(t, server.URL, session)

	resp, err := f.client.Get(context.Background(), "/bookings")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if f.navigator.Current() == navigation.PathLogin {
		t.Error("should not navigate to login while session is restoring")
	}
}

// TestDo_NavigationFailure_PublishesSupportNotice は遷移失敗時に
// サポート案内を表示し、後続の破棄処理は継続することを検証する。
func TestDo_NavigationFailure_PublishesSupportNotice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	session := authenticatedSession("stale-token")
	f := newClientFixture(t, server.URL, session)
	_ = f.tokens.Save(tokenstore.Credential{IDToken: "stale-token"})
	f.navigator.FailNext()

	resp, err := f.client.Get(context.Background(), "/bookings")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	notices := f.notices.Drain()
	keys := make(map[string]bool, len(notices))
	for _, n := range notices {
		keys[n.Key] = true
	}
	if !keys["navigation-failed"] {
		t.Error("expected navigation-failed notice")
	}
	if !keys["session-expired"] {
		t.Error("expected session-expired notice")
	}
	if _, err := f.tokens.Load(); err != tokenstore.ErrNotFound {
		t.Errorf("persisted token should still be cleared, got err = %v", err)
	}
}

// TestDo_RepeatedAuthFailure_NotifiesOnce は認可エラーが連続しても
// 再ログイン案内が一度しか表示されないことを検証する。
func TestDo_RepeatedAuthFailure_NotifiesOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	session := authenticatedSession("stale-token")
	f := newClientFixture(t, server.URL, session)

	for i := 0; i < 3; i++ {
		resp, err := f.client.Get(context.Background(), "/bookings")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		resp.Body.Close()
	}

	if got := len(f.notices.Drain()); got != 1 {
		t.Errorf("notices = %d, want 1", got)
	}
}

// TestGetJSON_DecodesResponse はGETレスポンスのJSONデコードを検証する。
func TestGetJSON_DecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"role":"trainer"}`))
	}))
	defer server.Close()

	f := newClientFixture(t, server.URL, authenticatedSession("token"))

	var out struct {
		Role string `json:"role"`
	}
	if err := f.client.GetJSON(context.Background(), "/users/role/x", &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out.Role != "trainer" {
		t.Errorf("role = %q, want %q", out.Role, "trainer")
	}
}

// TestPostJSON_SendsBodyAndDecodes はPOSTリクエストのJSON送受信を検証する。
func TestPostJSON_SendsBodyAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"class_id":"yoga-101"}` {
			t.Errorf("body = %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"booking_id":"bk-1"}`))
	}))
	defer server.Close()

	f := newClientFixture(t, server.URL, authenticatedSession("token"))

	in := struct {
		ClassID string `json:"class_id"`
	}{ClassID: "yoga-101"}
	var out struct {
		BookingID string `json:"booking_id"`
	}
	if err := f.client.PostJSON(context.Background(), "/bookings", in, &out); err != nil {
		t.Fatalf("PostJSON failed: %v", err)
	}
	if out.BookingID != "bk-1" {
		t.Errorf("booking_id = %q, want %q", out.BookingID, "bk-1")
	}
}
