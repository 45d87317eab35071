package notice

import "testing"

func TestCenter_PublishOnce_DeduplicatesByKey(t *testing.T) {
	c := NewCenter()

	c.PublishOnce("auth-expired", LevelWarn, "もう一度ログインしてください")
	c.PublishOnce("auth-expired", LevelWarn, "もう一度ログインしてください")
	c.PublishOnce("nav-failed", LevelError, "サポートへお問い合わせください")

	notices := c.Drain()
	if len(notices) != 2 {
		t.Fatalf("notices = %d, want 2", len(notices))
	}
	if notices[0].Key != "auth-expired" || notices[1].Key != "nav-failed" {
		t.Errorf("unexpected notice order: %v", notices)
	}
}

func TestCenter_Drain_EmptiesQueue(t *testing.T) {
	c := NewCenter()
	c.PublishOnce("k", LevelInfo, "msg")

	if got := len(c.Drain()); got != 1 {
		t.Fatalf("first Drain = %d notices, want 1", got)
	}
	if got := len(c.Drain()); got != 0 {
		t.Errorf("second Drain = %d notices, want 0", got)
	}
}

func TestCenter_Reset_AllowsRepublish(t *testing.T) {
	c := NewCenter()
	c.PublishOnce("auth-expired", LevelWarn, "msg")
	c.Drain()

	// Reset後は同一keyでも再発行できること
	c.Reset()
	c.PublishOnce("auth-expired", LevelWarn, "msg")

	if got := len(c.Drain()); got != 1 {
		t.Errorf("notices after reset = %d, want 1", got)
	}
}
