// Package idp は外部IDプロバイダーとの連携機能を提供する。
// アカウント作成、パスワード認証、ソーシャルログイン、トークンリフレッシュ、
// プロフィール更新のRESTクライアントを含む。
package idp

import (
	"context"

	"github.com/hitoshi/fitgate/internal/model"
)

// ProfilePatch はプロフィール更新の差分を表す。
// nilのフィールドは変更しない。
type ProfilePatch struct {
	DisplayName *string
	PhotoURL    *string
}

// Provider はIDプロバイダーのインターフェース。
// 将来的に複数IdPに対応するための抽象化。
type Provider interface {
	// SignUp はメールアドレスとパスワードで新規アカウントを作成する。
	SignUp(ctx context.Context, email, password string) (*model.Credential, error)
	// SignInWithPassword はメールアドレスとパスワードでサインインする。
	SignInWithPassword(ctx context.Context, email, password string) (*model.Credential, error)
	// SignInWithIdp はソーシャルプロバイダーのアクセストークンでサインインする。
	SignInWithIdp(ctx context.Context, accessToken string) (*model.Credential, error)
	// Refresh はリフレッシュトークンで新しい認証情報を取得する。
	Refresh(ctx context.Context, refreshToken string) (*model.Credential, error)
	// UpdateProfile は表示名・プロフィール画像URLを更新し、更新後のIdentityを返す。
	UpdateProfile(ctx context.Context, idToken string, patch ProfilePatch) (*model.Identity, error)
	// Lookup はIDトークンから現在のIdentityを取得する。
	Lookup(ctx context.Context, idToken string) (*model.Identity, error)
	// Revoke はリフレッシュトークンを無効化する。
	Revoke(ctx context.Context, refreshToken string) error
}
