package common

import (
	"errors"
	"testing"
)

func TestGuard(t *testing.T) {
	if err := Guard(nil, "bank"); err != nil {
		t.Fatalf("nil pause view must not block: %v", err)
	}
	pauses := Pauses{"bank": true}
	if err := Guard(pauses, "bank"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "exchange"); err != nil {
		t.Fatalf("unexpected error for unpaused module: %v", err)
	}
}

func TestLockRejectsReentry(t *testing.T) {
	var lock Lock
	if err := lock.Enter(); err != nil {
		t.Fatalf("first enter: %v", err)
	}
	if err := lock.Enter(); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	lock.Exit()
	if lock.Held() {
		t.Fatalf("lock should be released")
	}
	if err := lock.Enter(); err != nil {
		t.Fatalf("enter after exit: %v", err)
	}
}
