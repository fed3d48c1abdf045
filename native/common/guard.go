package common

import "errors"

var (
	ErrModulePaused = errors.New("module paused")
	// ErrReentrantCall is returned when a guarded entry point is invoked while
	// another guarded entry point of the same instance is still executing.
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Lock is a single-entry flag shared by every mutating entry point of an
// engine. It does not block: a second Enter before Exit fails immediately.
// Lock is not a mutex and offers no cross-goroutine exclusion.
type Lock struct {
	entered bool
}

// Enter marks the lock as held or returns ErrReentrantCall.
func (l *Lock) Enter() error {
	if l.entered {
		return ErrReentrantCall
	}
	l.entered = true
	return nil
}

// Exit releases the lock. It must run on every exit path.
func (l *Lock) Exit() {
	l.entered = false
}

// Held reports whether an entry point is currently executing.
func (l *Lock) Held() bool {
	return l.entered
}

// Pauses is a static PauseView keyed by module name.
type Pauses map[string]bool

// IsPaused implements PauseView.
func (p Pauses) IsPaused(module string) bool {
	return p[module]
}
