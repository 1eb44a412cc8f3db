package plugins

import (
	"context"
	"testing"
	"time"
)

func TestClock_CurrentTime(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	c := &Clock{now: func() time.Time { return fixed }}

	result, err := c.Handle(context.Background(), "currentTime", map[string]any{"timezone": "Asia/Tokyo"})
	if err != nil {
		t.Fatal(err)
	}
	got := result.(map[string]any)
	if got["timezone"] != "Asia/Tokyo" {
		t.Errorf("timezone = %v", got["timezone"])
	}
	// 15:09 UTC is 00:09 next day in Tokyo.
	if got["time"] != "2026-03-15T00:09:26+09:00" {
		t.Errorf("time = %v", got["time"])
	}
	if got["weekday"] != "Sunday" {
		t.Errorf("weekday = %v", got["weekday"])
	}
}

func TestClock_DefaultsToUTC(t *testing.T) {
	c := NewClock()
	result, err := c.Handle(context.Background(), "currentTime", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := result.(map[string]any)["timezone"]; got != "UTC" {
		t.Errorf("timezone = %v", got)
	}
}

func TestClock_UnknownTimezone(t *testing.T) {
	c := NewClock()
	if _, err := c.Handle(context.Background(), "currentTime", map[string]any{"timezone": "Mars/Olympus"}); err == nil {
		t.Fatal("want error for unknown timezone")
	}
}

func TestClock_UnknownOperation(t *testing.T) {
	c := NewClock()
	if _, err := c.Handle(context.Background(), "nope", nil); err == nil {
		t.Fatal("want error for unknown operation")
	}
}
