// Package guard は画面遷移時の認証・認可判定を提供する。
// セッションとロールの状態から入場可否を判定し、拒否時はリダイレクトする。
package guard

import (
	"log/slog"

	"github.com/hitoshi/fitgate/internal/model"
	"github.com/hitoshi/fitgate/internal/navigation"
	"github.com/hitoshi/fitgate/internal/role"
)

// Outcome は入場判定の結果種別。
type Outcome int

const (
	// OutcomePending は判定材料が揃っていない状態。入場も拒否もしない。
	OutcomePending Outcome = iota
	// OutcomeAdmitted は入場許可。
	OutcomeAdmitted
	// OutcomeDenied は入場拒否。RedirectPath へ遷移する。
	OutcomeDenied
)

// Decision は入場判定の結果。
type Decision struct {
	Outcome      Outcome
	RedirectPath string // OutcomeDenied の場合のみ設定される
}

// Guard は保護対象画面の入場条件。
// required が空の場合は認証のみを要求する。
type Guard struct {
	name     string
	required []model.Role
}

// RequireAuthenticated は認証のみを要求するガードを返す。
func RequireAuthenticated() *Guard {
	return &Guard{name: "authenticated"}
}

// AdminOnly は管理者のみ入場可能なガードを返す。
func AdminOnly() *Guard {
	return &Guard{name: "admin_only", required: []model.Role{model.RoleAdmin}}
}

// TrainerOnly はトレーナーのみ入場可能なガードを返す。
func TrainerOnly() *Guard {
	return &Guard{name: "trainer_only", required: []model.Role{model.RoleTrainer}}
}

// MemberOnly は会員のみ入場可能なガードを返す。
func MemberOnly() *Guard {
	return &Guard{name: "member_only", required: []model.Role{model.RoleMember}}
}

// AdminOrTrainer は管理者またはトレーナーが入場可能なガードを返す。
func AdminOrTrainer() *Guard {
	return &Guard{name: "admin_or_trainer", required: []model.Role{model.RoleAdmin, model.RoleTrainer}}
}

// Name はガードの識別名を返す。ログ出力に使用する。
func (g *Guard) Name() string {
	return g.name
}

// Evaluate はセッションとロールの状態から入場可否を判定する純粋関数。
// 判定順序:
// 1. セッション復元中は保留（拒否にも許可にも倒さない）
// 2. 未認証はログイン画面へ
// 3. 認証のみ要求のガードはここで許可
// 4. ロール解決中は保留
// 5. ロール解決エラーは拒否（許可側に倒さない）
// 6. ロールが条件を満たせば許可、満たさなければ拒否
func (g *Guard) Evaluate(sess model.Session, roleState role.State) Decision {
	if sess.Loading {
		return Decision{Outcome: OutcomePending}
	}

	if !sess.Authenticated() {
		return Decision{Outcome: OutcomeDenied, RedirectPath: navigation.PathLogin}
	}

	if len(g.required) == 0 {
		return Decision{Outcome: OutcomeAdmitted}
	}

	if !roleState.Done {
		return Decision{Outcome: OutcomePending}
	}
	if roleState.Err != nil {
		return Decision{Outcome: OutcomeDenied, RedirectPath: navigation.PathForbidden}
	}

	for _, r := range g.required {
		if roleState.Role == r {
			return Decision{Outcome: OutcomeAdmitted}
		}
	}
	return Decision{Outcome: OutcomeDenied, RedirectPath: navigation.PathForbidden}
}

// Admitter はガードの判定に基づいて画面遷移を実行する。
type Admitter struct {
	navigator navigation.Navigator
	logger    *slog.Logger
}

// NewAdmitter はAdmitter の新しいインスタンスを生成する。
func NewAdmitter(navigator navigation.Navigator, logger *slog.Logger) *Admitter {
	return &Admitter{
		navigator: navigator,
		logger:    logger,
	}
}

// Admit はガードを評価し、拒否の場合はリダイレクトを実行する。
// pathには入場を試みたパスを渡す。拒否時はこのパスがfrom 状態として
// リダイレクトに引き継がれ、ログイン後の復帰に使用できる。
// 保留の場合は何もしない（状態が確定したら再評価される前提）。
func (a *Admitter) Admit(g *Guard, path string, sess model.Session, roleState role.State) Decision {
	decision := g.Evaluate(sess, roleState)

	switch decision.Outcome {
	case OutcomeDenied:
		a.logger.Info("入場を拒否しました",
			slog.String("guard", g.Name()),
			slog.String("from", path),
			slog.String("redirect", decision.RedirectPath),
		)
		if err := a.navigator.Navigate(decision.RedirectPath, map[string]string{
			navigation.StateKeyFrom: path,
		}); err != nil {
			a.logger.Error("リダイレクトに失敗しました",
				slog.String("guard", g.Name()),
				slog.String("error", err.Error()),
			)
		}
	case OutcomeAdmitted:
		a.logger.Debug("入場を許可しました",
			slog.String("guard", g.Name()),
		)
	}

	return decision
}
