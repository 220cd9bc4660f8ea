package domain

import (
	"testing"
	"time"
)

func mustDay(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, value)
	if err != nil {
		t.Fatalf("parse %s: %v", value, err)
	}
	return d
}

func TestNewWindowRejectsInvertedRange(t *testing.T) {
	t.Parallel()

	_, err := NewWindow(mustDay(t, "2023-05-02"), mustDay(t, "2023-05-01"))
	if err == nil {
		t.Fatal("expected error for end before start")
	}
}

func TestWindowDaysInclusive(t *testing.T) {
	t.Parallel()

	w, err := NewWindow(mustDay(t, "2023-05-01"), mustDay(t, "2023-05-03"))
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	days := w.Days()
	if len(days) != 3 {
		t.Fatalf("expected 3 days, got %d", len(days))
	}
	if !w.Contains(mustDay(t, "2023-05-01")) || !w.Contains(mustDay(t, "2023-05-03")) {
		t.Fatal("window must include both endpoints")
	}
	if w.Contains(mustDay(t, "2023-05-04")) {
		t.Fatal("window must exclude days past the end")
	}
}

func TestWindowFromDaysBack(t *testing.T) {
	t.Parallel()

	now := mustDay(t, "2023-05-03").Add(15 * time.Hour)
	w := WindowFromDaysBack(now, 2)
	if len(w.Days()) != 3 {
		t.Fatalf("expected 3 days, got %d", len(w.Days()))
	}
	if !w.End.Equal(mustDay(t, "2023-05-03")) {
		t.Fatalf("end not truncated to the day: %s", w.End)
	}
}
