// Package api はバックエンドAPIの型付きラッパーを提供する。
// ロール取得とクラス・予約の各エンドポイントをapiclient経由で呼び出す。
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/hitoshi/fitgate/internal/apiclient"
	"github.com/hitoshi/fitgate/internal/model"
)

// Class はフィットネスクラスの情報。
type Class struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TrainerID string    `json:"trainer_id"`
	StartsAt  time.Time `json:"starts_at"`
	Capacity  int       `json:"capacity"`
	Booked    int       `json:"booked"`
}

// Booking はクラス予約の情報。
type Booking struct {
	ID        string    `json:"id"`
	ClassID   string    `json:"class_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Client はバックエンドAPIの型付きクライアント。
type Client struct {
	http   *apiclient.Client
	logger *slog.Logger
}

// NewClient はClient の新しいインスタンスを生成する。
func NewClient(httpClient *apiclient.Client, logger *slog.Logger) *Client {
	return &Client{
		http:   httpClient,
		logger: logger,
	}
}

// FetchRole は指定メールアドレスのユーザーロールを取得する。
// 未知のロール値はエラーとして扱う（権限を与える側に倒さない）。
func (c *Client) FetchRole(ctx context.Context, email string) (model.Role, error) {
	var out struct {
		Role string `json:"role"`
	}

	path := "/users/role/" + url.PathEscape(email)
	if err := c.http.GetJSON(ctx, path, &out); err != nil {
		c.logger.Error("ロールの取得に失敗しました",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return "", model.NewRoleFetchFailedError(email)
	}

	role, err := model.ParseRole(out.Role)
	if err != nil {
		c.logger.Error("未知のロール値を受信しました",
			slog.String("email", email),
			slog.String("raw_role", out.Role),
		)
		return "", model.NewUnknownRoleError(out.Role)
	}

	return role, nil
}

// ListClasses は予約可能なクラスの一覧を取得する。
func (c *Client) ListClasses(ctx context.Context) ([]Class, error) {
	var out struct {
		Classes []Class `json:"classes"`
	}
	if err := c.http.GetJSON(ctx, "/classes", &out); err != nil {
		return nil, fmt.Errorf("クラス一覧の取得に失敗しました: %w", err)
	}
	return out.Classes, nil
}

// CreateBooking は指定クラスの予約を作成する。
func (c *Client) CreateBooking(ctx context.Context, classID string) (*Booking, error) {
	in := struct {
		ClassID string `json:"class_id"`
	}{ClassID: classID}

	var out Booking
	if err := c.http.PostJSON(ctx, "/bookings", in, &out); err != nil {
		return nil, fmt.Errorf("予約の作成に失敗しました: %w", err)
	}
	return &out, nil
}

// ListBookings は自分の予約一覧を取得する。
func (c *Client) ListBookings(ctx context.Context) ([]Booking, error) {
	var out struct {
		Bookings []Booking `json:"bookings"`
	}
	if err := c.http.GetJSON(ctx, "/bookings", &out); err != nil {
		return nil, fmt.Errorf("予約一覧の取得に失敗しました: %w", err)
	}
	return out.Bookings, nil
}
