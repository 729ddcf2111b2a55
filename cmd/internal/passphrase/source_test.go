package passphrase

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("MEGALUCK_TEST_PASS", "correct horse")
	src := NewSource("MEGALUCK_TEST_PASS", "authority")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "correct horse" {
		t.Fatalf("unexpected passphrase %q", got)
	}
	t.Setenv("MEGALUCK_TEST_PASS", "changed")
	if again, _ := src.Get(); again != "correct horse" {
		t.Fatalf("expected cached passphrase, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("MEGALUCK_TEST_PASS", "   ")
	if _, err := NewSource("MEGALUCK_TEST_PASS", "authority").Get(); err == nil {
		t.Fatalf("expected error for blank passphrase")
	}
}

func scripted(answers ...string) func(string) (string, error) {
	return func(string) (string, error) {
		if len(answers) == 0 {
			return "", io.ErrUnexpectedEOF
		}
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}
}

func TestSourceConfirmsNewPassphrase(t *testing.T) {
	src := NewSource("", "authority").Confirming()
	src.prompt = scripted("pw-1", "pw-1")
	if got, err := src.Get(); err != nil || got != "pw-1" {
		t.Fatalf("confirmed passphrase: %q %v", got, err)
	}

	mismatch := NewSource("", "authority").Confirming()
	mismatch.prompt = scripted("pw-1", "pw-2")
	if _, err := mismatch.Get(); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("MEGALUCK_UNSET_PASS", "authority")
	src.prompt = scripted()
	_, err := src.Get()
	if err == nil || !strings.Contains(err.Error(), "MEGALUCK_UNSET_PASS") {
		t.Fatalf("expected hint naming the env var, got %v", err)
	}
}
