package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/fitgate/internal/model"
)

// freePort はテスト用に空きポートを確保して返す。
func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer l.Close()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
}

func TestSocialFlow_LoginURL_ContainsRequiredParams(t *testing.T) {
	flow := NewSocialFlow(SocialConfig{
		ClientID:     "test-client-id",
		AuthURL:      "https://accounts.example.com/auth",
		CallbackPort: "8765",
	}, nil, nil)

	url := flow.LoginURL("test-state-value")

	tests := []struct {
		name     string
		contains string
	}{
		{"client_id", "client_id=test-client-id"},
		{"redirect_uri", "redirect_uri="},
		{"state", "state=test-state-value"},
		{"response_type", "response_type=code"},
		{"scope email", "email"},
		{"scope profile", "profile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(url, tt.contains) {
				t.Errorf("URL should contain %q, got %q", tt.contains, url)
			}
		})
	}
}

func TestSocialFlow_WaitForCode_ReceivesCallback(t *testing.T) {
	port := freePort(t)
	flow := NewSocialFlow(SocialConfig{CallbackPort: port}, nil, nil)

	type waitResult struct {
		code string
		err  error
	}
	resultCh := make(chan waitResult, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		code, err := flow.WaitForCode(ctx, "expected-state")
		resultCh <- waitResult{code: code, err: err}
	}()

	// コールバックサーバーの起動を待ってからリダイレクトを模擬する
	callbackURL := fmt.Sprintf("http://127.0.0.1:%s/callback?code=auth-code-123&state=expected-state", port)
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get(callbackURL)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	resp.Body.Close()

	result := <-resultCh
	if result.err != nil {
		t.Fatalf("WaitForCode failed: %v", result.err)
	}
	if result.code != "auth-code-123" {
		t.Errorf("code = %q, want auth-code-123", result.code)
	}
}

func TestSocialFlow_WaitForCode_StateMismatch(t *testing.T) {
	port := freePort(t)
	flow := NewSocialFlow(SocialConfig{CallbackPort: port}, nil, nil)

	resultCh := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		_, err := flow.WaitForCode(ctx, "expected-state")
		resultCh <- err
	}()

	callbackURL := fmt.Sprintf("http://127.0.0.1:%s/callback?code=auth-code&state=wrong-state", port)
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get(callbackURL)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	// state不一致のコールバックは400で拒否されること
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	resp.Body.Close()

	if err := <-resultCh; err == nil {
		t.Error("WaitForCode should fail on state mismatch")
	}
}

func TestSocialFlow_WaitForCode_UserCancel(t *testing.T) {
	port := freePort(t)
	flow := NewSocialFlow(SocialConfig{CallbackPort: port}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	// ユーザーがフローを中断した状況を模擬する
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := flow.WaitForCode(ctx, "state")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodePopupCancelled {
		t.Errorf("error = %v, want POPUP_CANCELLED", err)
	}
}

func TestSocialFlow_WaitForCode_ProviderDenied(t *testing.T) {
	port := freePort(t)
	flow := NewSocialFlow(SocialConfig{CallbackPort: port}, nil, nil)

	resultCh := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		_, err := flow.WaitForCode(ctx, "expected-state")
		resultCh <- err
	}()

	callbackURL := fmt.Sprintf("http://127.0.0.1:%s/callback?error=access_denied&state=expected-state", port)
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get(callbackURL)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	resp.Body.Close()

	waitErr := <-resultCh
	var apiErr *model.APIError
	if !errors.As(waitErr, &apiErr) || apiErr.Code != model.ErrCodePopupCancelled {
		t.Errorf("error = %v, want POPUP_CANCELLED", waitErr)
	}
}

func TestSocialFlow_Exchange_Success(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if r.Form.Get("code") != "auth-code" {
			t.Errorf("code = %q, want auth-code", r.Form.Get("code"))
		}
		if r.Form.Get("grant_type") != "authorization_code" {
			t.Errorf("grant_type = %q, want authorization_code", r.Form.Get("grant_type"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "social-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	flow := NewSocialFlow(SocialConfig{
		ClientID:     "cid",
		ClientSecret: "secret",
		TokenURL:     tokenServer.URL,
		CallbackPort: "8765",
	}, nil, nil)

	token, err := flow.Exchange(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if token != "social-access-token" {
		t.Errorf("token = %q, want social-access-token", token)
	}
}

func TestNewState_Unique(t *testing.T) {
	if NewState() == NewState() {
		t.Error("state tokens should be unique")
	}
}
