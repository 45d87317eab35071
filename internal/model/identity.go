// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は認証済みエンドユーザーを表す。
// Emailを安定識別子として扱う（IdPのsubはプロバイダー内部IDのため補助情報）。
type Identity struct {
	Email          string
	DisplayName    string
	PhotoURL       string
	ProviderUserID string
}

// Session はIdentityとベアラートークン、ローディングフラグのペアを表す。
// 値のスナップショットとして読み取り側に渡し、読み取り側は変更しない。
type Session struct {
	Identity *Identity
	Token    string
	Loading  bool
}

// Authenticated はセッションが確定済みかつ認証済みであることを返す。
func (s Session) Authenticated() bool {
	return !s.Loading && s.Identity != nil && s.Token != ""
}

// Credential はIdPが発行した認証情報を表す。
// IDTokenがAPIへのベアラートークンとして使用される。
type Credential struct {
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
	Identity     Identity
}
