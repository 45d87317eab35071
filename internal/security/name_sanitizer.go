// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizerService はユーザー入力の表示名をサニタイズし、
// フォーラムやレビュー画面に表示される文字列からXSSリスクを取り除く。
// bluemondayのStrictPolicyにより、HTMLタグは一切許可しない。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizerService は表示名のサニタイズ機能のインターフェースを定義する。
// プロフィール更新時およびアカウント作成時に使用される。
type NameSanitizerService interface {
	// SanitizeDisplayName は表示名からHTMLタグと前後の空白を除去する。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeDisplayName(raw string) string
}

// nameSanitizer はNameSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerServiceの新しいインスタンスを生成する。
// 表示名は装飾不要なプレーンテキストのため、StrictPolicy（全タグ除去）を使用する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeDisplayName は表示名からHTMLタグと前後の空白を除去する。
func (s *nameSanitizer) SanitizeDisplayName(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// compile-time interface check
var _ NameSanitizerService = (*nameSanitizer)(nil)
