// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/hitoshi/fitgate/internal/model"
)

// PhotoGuardService はプロフィール画像URLの検証機能のインターフェースを定義する。
// プロフィール更新時にユーザー入力のURLを検証するために使用される。
type PhotoGuardService interface {
	// ValidatePhotoURL はプロフィール画像URLの安全性を検証する。
	// httpsの公開URLのみを許可し、プライベートIPやループバックへの
	// URLはエラーにする。
	ValidatePhotoURL(rawURL string) error

	// NewSafeClient は画像URLの到達性確認用のHTTPクライアントを生成する。
	// safeurlライブラリにより、プライベートIP、ループバック、リンクローカル、
	// メタデータIPへのリクエストが自動的にブロックされる。
	// DNS再バインディング攻撃への対策も有効化される。
	NewSafeClient(timeout time.Duration) *http.Client
}

// プロフィール画像URLで許可されるスキーム。httpは平文のため許可しない。
var allowedPhotoSchemes = []string{"https"}

// blockedNetworks は検証でブロックされるネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
// safeurlはnet.DialerレベルでDNS解決後のIPアドレスも検証するため、
// DNS再バインディング攻撃にも対応している。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック (RFC 1122)
		"127.0.0.0/8",
		// リンクローカル (RFC 3927) - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// IPv6ループバック
		"::1/128",
		// IPv6リンクローカル
		"fe80::/10",
		// IPv6ユニークローカル
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid CIDR in blockedNetworks: " + cidr)
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// photoGuard はPhotoGuardServiceの実装。
type photoGuard struct{}

// NewPhotoGuard はPhotoGuardServiceの新しいインスタンスを生成する。
func NewPhotoGuard() *photoGuard {
	return &photoGuard{}
}

// ValidatePhotoURL はプロフィール画像URLの安全性を検証する。
// DNS解決を伴わない静的な検証を行う。
// DNS再バインディング攻撃はNewSafeClientが生成するクライアント側の
// Dialer検証で防止される。
func (g *photoGuard) ValidatePhotoURL(rawURL string) error {
	if rawURL == "" {
		return model.NewInvalidPhotoURLError("URLが空です")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return model.NewInvalidPhotoURLError("URLの形式が不正です")
	}

	// スキーム検証: httpsのみ許可
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" {
		return model.NewInvalidPhotoURLError("httpsのURLのみ許可されています")
	}

	// ホスト検証: 空ホストを拒否
	host := parsed.Hostname()
	if host == "" {
		return model.NewInvalidPhotoURLError("ホストが含まれていません")
	}

	// IPアドレスの場合: ブロック対象CIDRとの照合
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return model.NewInvalidPhotoURLError("プライベートネットワークのIPアドレスです")
		}
		return nil
	}

	// ホスト名の場合: localhost等の危険なホスト名を拒否
	if isBlockedHostname(host) {
		return model.NewInvalidPhotoURLError("このホストは許可されていません")
	}

	return nil
}

// NewSafeClient は画像URL到達性確認用のHTTPクライアントを生成する。
func (g *photoGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedPhotoSchemes...).
		SetAllowedPorts(443).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}

// isBlockedIP はIPアドレスがブロック対象ネットワークに含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// isBlockedHostname は危険なホスト名かどうかを検証する。
func isBlockedHostname(host string) bool {
	lower := strings.ToLower(host)
	return lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".local")
}

// compile-time interface check
var _ PhotoGuardService = (*photoGuard)(nil)
