package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandLogin はメール・パスワードでサインインする。
	CommandLogin Command = "login"
	// CommandSignup は新規アカウントを作成してサインインする。
	CommandSignup Command = "signup"
	// CommandSocialLogin はソーシャルプロバイダー経由でサインインする。
	CommandSocialLogin Command = "social-login"
	// CommandLogout はサインアウトし、保存済み認証情報を破棄する。
	CommandLogout Command = "logout"
	// CommandWhoami は現在のセッションとロールを表示する。
	CommandWhoami Command = "whoami"
	// CommandProfile はプロフィール（表示名・写真URL）を更新する。
	CommandProfile Command = "profile"
	// CommandOpen は保護対象画面への入場判定を実行する。
	CommandOpen Command = "open"
	// CommandMetrics はメトリクスエンドポイントを起動する。
	CommandMetrics Command = "metrics"
	// CommandHealthcheck はヘルスチェックを実行する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドと残りの引数を解析する。
// 引数が空またはサポート外のコマンドの場合はCommandWhoamiを返す。
func ParseCommand(args []string) (Command, []string) {
	if len(args) == 0 {
		return CommandWhoami, nil
	}

	switch args[0] {
	case "login":
		return CommandLogin, args[1:]
	case "signup":
		return CommandSignup, args[1:]
	case "social-login":
		return CommandSocialLogin, args[1:]
	case "logout":
		return CommandLogout, args[1:]
	case "whoami":
		return CommandWhoami, args[1:]
	case "profile":
		return CommandProfile, args[1:]
	case "open":
		return CommandOpen, args[1:]
	case "metrics":
		return CommandMetrics, args[1:]
	case "healthcheck":
		return CommandHealthcheck, args[1:]
	default:
		return CommandWhoami, args
	}
}
