package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"pending to ongoing", StatusPending, StatusOngoing, true},
		{"pending to failed", StatusPending, StatusFailed, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"pending to closed", StatusPending, StatusClosed, false},
		{"ongoing to closed", StatusOngoing, StatusClosed, true},
		{"ongoing to failed", StatusOngoing, StatusFailed, true},
		{"failed retried to pending", StatusFailed, StatusPending, true},
		{"failed to cancelled", StatusFailed, StatusCancelled, true},
		{"failed to ongoing", StatusFailed, StatusOngoing, false},
		{"closed is terminal", StatusClosed, StatusPending, false},
		{"cancelled is terminal", StatusCancelled, StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestOrder_IsActive(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, true},
		{StatusOngoing, true},
		{StatusFailed, true},
		{StatusClosed, false},
		{StatusCancelled, false},
	}
	for _, tt := range tests {
		o := &Order{Status: tt.status}
		if got := o.IsActive(); got != tt.want {
			t.Errorf("IsActive() with %s = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestOrder_MarkFailed_AnchorsFirstFailure(t *testing.T) {
	o := NewOrder("RELIANCE", SideBuy, 10, decimal.NewFromInt(2500))

	first := time.Date(2025, 6, 2, 16, 5, 0, 0, time.UTC)
	o.MarkFailed("insufficient_balance", first)

	if !o.FirstFailedAt.Equal(first) {
		t.Fatalf("FirstFailedAt = %v, want %v", o.FirstFailedAt, first)
	}

	// A later failure must not move the anchor.
	later := first.Add(4 * time.Hour)
	o.MarkFailed("broker rejected: circuit limit", later)
	if !o.FirstFailedAt.Equal(first) {
		t.Errorf("FirstFailedAt moved to %v after second failure", o.FirstFailedAt)
	}
	if o.Reason != "broker rejected: circuit limit" {
		t.Errorf("Reason = %q, want latest reason", o.Reason)
	}

	o.MarkRetryAttempt(later)
	o.MarkRetryAttempt(later.Add(time.Hour))
	if o.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", o.RetryCount)
	}
	if !o.FirstFailedAt.Equal(first) {
		t.Errorf("FirstFailedAt moved after retries")
	}
}

func TestOrder_SameParams(t *testing.T) {
	o := NewOrder("TCS", SideBuy, 5, decimal.NewFromFloat(3999.50))

	if !o.SameParams(5, decimal.NewFromFloat(3999.5)) {
		t.Error("identical params reported as different")
	}
	if o.SameParams(6, decimal.NewFromFloat(3999.5)) {
		t.Error("different quantity reported as same")
	}
	if o.SameParams(5, decimal.NewFromFloat(4000)) {
		t.Error("different price reported as same")
	}
}
