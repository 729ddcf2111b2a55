package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrMismatch is returned when a confirmed passphrase is typed differently twice.
var ErrMismatch = errors.New("passphrases do not match")

// Source supplies the passphrase of one keystore. The environment wins over
// the terminal and the first answer is reused for the life of the process.
type Source struct {
	envVar  string
	label   string
	confirm bool

	// prompt reads one hidden line; swapped out in tests.
	prompt func(label string) (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource returns a Source for the key called label, looking at envVar first.
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "keystore"
	}
	return &Source{
		envVar: strings.TrimSpace(envVar),
		label:  label,
		prompt: terminalPrompt,
	}
}

// Confirming asks twice on the terminal. Used when a new keystore is written.
func (s *Source) Confirming() *Source {
	s.confirm = true
	return s
}

func terminalPrompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", io.ErrUnexpectedEOF
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	return string(raw), err
}

func (s *Source) fromEnv() (string, bool, error) {
	if s.envVar == "" {
		return "", false, nil
	}
	value, ok := os.LookupEnv(s.envVar)
	if !ok {
		return "", false, nil
	}
	if strings.TrimSpace(value) == "" {
		return "", true, fmt.Errorf("%s is set but empty", s.envVar)
	}
	return value, true, nil
}

func (s *Source) fromTerminal() (string, error) {
	first, err := s.prompt(fmt.Sprintf("Enter %s passphrase", s.label))
	if errors.Is(err, io.ErrUnexpectedEOF) {
		if s.envVar != "" {
			return "", fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s passphrase required and no terminal available", s.label)
	}
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if strings.TrimSpace(first) == "" {
		return "", errors.New("passphrase cannot be empty")
	}
	if !s.confirm {
		return first, nil
	}
	second, err := s.prompt(fmt.Sprintf("Repeat %s passphrase", s.label))
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if first != second {
		return "", ErrMismatch
	}
	return first, nil
}

// Get resolves the passphrase once and returns the cached outcome afterwards.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		value, found, err := s.fromEnv()
		if found || err != nil {
			s.value, s.err = value, err
			return
		}
		s.value, s.err = s.fromTerminal()
	})
	return s.value, s.err
}
