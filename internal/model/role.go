package model

import "fmt"

// Role はサーバー側でメールアドレスごとに割り当てられるユーザー区分を表す。
// 閉じた列挙型として扱い、未知の値はParseRoleでエラーにする。
type Role string

const (
	// RoleAdmin は管理者ロール。
	RoleAdmin Role = "admin"
	// RoleTrainer はトレーナーロール。
	RoleTrainer Role = "trainer"
	// RoleMember は一般会員ロール。
	RoleMember Role = "member"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTrainer, RoleMember:
		return true
	}
	return false
}

// String はロールの文字列表現を返す。
func (r Role) String() string {
	return string(r)
}

// ParseRole は文字列をRoleに変換する。
// 未知のロール文字列の場合はエラーを返す（デフォルトロールへのフォールバックはしない）。
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("未知のロールです: %q", s)
	}
	return r, nil
}
