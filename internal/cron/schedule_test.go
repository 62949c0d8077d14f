package cron

import (
	"testing"
	"time"
)

func TestValidateExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 8 * * *", false},
		{"*/15 * * * *", false},
		{"@daily", false},
		{"@hourly", false},
		{"", true},
		{"  ", true},
		{"not a cron", true},
		{"61 * * * *", true},
		{"* * * * * *", true}, // six fields
	}
	for _, tt := range tests {
		err := ValidateExpr(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateExpr(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestNextAfter(t *testing.T) {
	base := time.Date(2025, 6, 1, 7, 30, 0, 0, time.UTC)

	next, err := NextAfter("0 8 * * *", base)
	if err != nil {
		t.Fatalf("NextAfter() error = %v", err)
	}
	want := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextAfter() = %v, want %v", next, want)
	}

	if _, err := NextAfter("bogus", base); err == nil {
		t.Error("NextAfter() with invalid expression: expected error")
	}
}

func TestJobID(t *testing.T) {
	if got := JobID("daily-news"); got != "agent_daily-news" {
		t.Errorf("JobID() = %q, want agent_daily-news", got)
	}
}
