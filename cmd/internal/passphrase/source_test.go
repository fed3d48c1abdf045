package passphrase

import (
	"io"
	"testing"
)

func scripted(answers ...string) (func() bool, func() ([]byte, error)) {
	i := 0
	return func() bool { return true }, func() ([]byte, error) {
		answer := answers[i]
		i++
		return []byte(answer), nil
	}
}

func TestEnvironmentTakesPrecedence(t *testing.T) {
	t.Setenv("BANK_TEST_PASS", "from-env")
	src := NewSource("BANK_TEST_PASS")
	src.terminal = func() bool { t.Fatalf("terminal must not be consulted"); return false }
	got, err := src.Get()
	if err != nil || got != "from-env" {
		t.Fatalf("unexpected result %q, %v", got, err)
	}
}

func TestEmptyEnvironmentRejected(t *testing.T) {
	t.Setenv("BANK_TEST_PASS", "  ")
	if _, err := NewSource("BANK_TEST_PASS").Get(); err == nil {
		t.Fatalf("expected empty env passphrase to fail")
	}
}

func TestNoTerminal(t *testing.T) {
	src := NewSource("")
	src.terminal = func() bool { return false }
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected error without terminal")
	}
}

func TestConfirmationMismatch(t *testing.T) {
	src := NewSource("").WithConfirmation()
	src.prompt = io.Discard
	src.terminal, src.read = scripted("first", "second")
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestPromptIsCached(t *testing.T) {
	src := NewSource("").WithConfirmation()
	src.prompt = io.Discard
	src.terminal, src.read = scripted("secret", "secret")
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "secret" {
			t.Fatalf("unexpected result %q, %v", got, err)
		}
	}
}
