package common

import (
	"errors"
	"math"
	"testing"
)

func TestCheckQuotaRequestLimit(t *testing.T) {
	q := Quota{MaxRequestsPerEpoch: 10}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ReqCount != 10 {
		t.Fatalf("unexpected request count: %d", next.ReqCount)
	}

	denied, err := CheckQuota(q, 1, next, 1, 0)
	if !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.ReqCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestCheckQuotaAmount(t *testing.T) {
	q := Quota{MaxAmountPerEpoch: 1000}
	prev := QuotaNow{EpochID: 5}

	next, err := CheckQuota(q, 5, prev, 0, 600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := CheckQuota(q, 5, next, 0, 401); !errors.Is(err, ErrQuotaAmountExceeded) {
		t.Fatalf("expected ErrQuotaAmountExceeded, got %v", err)
	}
	exact, err := CheckQuota(q, 5, next, 0, 400)
	if err != nil {
		t.Fatalf("exact fill should pass: %v", err)
	}
	if exact.AmountUsed != 1000 {
		t.Fatalf("unexpected usage %d", exact.AmountUsed)
	}
}

func TestCheckQuotaOverflow(t *testing.T) {
	prev := QuotaNow{AmountUsed: math.MaxUint64}
	if _, err := CheckQuota(Quota{}, 0, prev, 0, 1); !errors.Is(err, ErrQuotaCounterOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestQuotaEpochAt(t *testing.T) {
	q := Quota{EpochSeconds: 60}
	if got := q.EpochAt(125); got != 2 {
		t.Fatalf("expected epoch 2, got %d", got)
	}
	if got := (Quota{}).EpochAt(125); got != 0 {
		t.Fatalf("expected epoch 0 without epoch length, got %d", got)
	}
	if (Quota{}).Enabled() {
		t.Fatalf("zero quota must be disabled")
	}
}
