// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, authz, role, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredential = "INVALID_CREDENTIAL"
	ErrCodeEmailInUse        = "EMAIL_IN_USE"
	ErrCodeWeakPassword      = "WEAK_PASSWORD"
	ErrCodePopupCancelled    = "POPUP_CANCELLED"
	ErrCodeSessionExpired    = "SESSION_EXPIRED"
	ErrCodeRoleFetchFailed   = "ROLE_FETCH_FAILED"
	ErrCodeUnknownRole       = "UNKNOWN_ROLE"
	ErrCodeNavigationFailed  = "NAVIGATION_FAILED"
	ErrCodeInvalidPhotoURL   = "INVALID_PHOTO_URL"
	ErrCodeProviderOutage    = "PROVIDER_OUTAGE"
)

// NewInvalidCredentialError は認証情報不正エラーを生成する。
func NewInvalidCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewEmailInUseError はメールアドレス重複エラーを生成する。
func NewEmailInUseError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeEmailInUse,
		Message:  fmt.Sprintf("このメールアドレスは既に登録されています: %s", email),
		Category: "auth",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewWeakPasswordError はパスワード強度不足エラーを生成する。
func NewWeakPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  "パスワードが短すぎます。6文字以上で設定してください。",
		Category: "auth",
		Action:   "より長いパスワードを設定してください。",
	}
}

// NewPopupCancelledError はソーシャルログインのユーザー中断エラーを生成する。
func NewPopupCancelledError() *APIError {
	return &APIError{
		Code:     ErrCodePopupCancelled,
		Message:  "ソーシャルログインがキャンセルされました。",
		Category: "auth",
		Action:   "もう一度ログインボタンを押してやり直してください。",
	}
}

// NewSessionExpiredError はセッション失効エラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れました。",
		Category: "authz",
		Action:   "もう一度ログインしてください。",
	}
}

// NewRoleFetchFailedError はロール取得失敗エラーを生成する。
func NewRoleFetchFailedError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeRoleFetchFailed,
		Message:  fmt.Sprintf("ロールの取得に失敗しました: %s", email),
		Category: "role",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnknownRoleError はサーバーが未知のロールを返した場合のエラーを生成する。
func NewUnknownRoleError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownRole,
		Message:  fmt.Sprintf("サーバーが未知のロールを返しました: %q", raw),
		Category: "role",
		Action:   "アプリケーションを最新版に更新してください。",
	}
}

// NewNavigationFailedError は強制サインアウト時のリダイレクト失敗エラーを生成する。
func NewNavigationFailedError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeNavigationFailed,
		Message:  fmt.Sprintf("画面遷移に失敗しました: %s", path),
		Category: "system",
		Action:   "サポートへお問い合わせください。",
	}
}

// NewInvalidPhotoURLError はプロフィール画像URLが不正な場合のエラーを生成する。
func NewInvalidPhotoURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPhotoURL,
		Message:  fmt.Sprintf("プロフィール画像のURLが無効です: %s", reason),
		Category: "validation",
		Action:   "公開されているhttps://のURLを指定してください。",
	}
}

// NewProviderOutageError はIdP側障害のエラーを生成する。
func NewProviderOutageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderOutage,
		Message:  fmt.Sprintf("認証プロバイダーへの接続に失敗しました: %s", reason),
		Category: "system",
		Action:   "ネットワーク接続を確認し、しばらく待ってから再度お試しください。",
	}
}
