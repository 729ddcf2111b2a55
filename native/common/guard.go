package common

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

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

// Switches is an in-memory PauseView toggled by operators at runtime.
type Switches struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewSwitches(initial map[string]bool) *Switches {
	s := &Switches{paused: make(map[string]bool)}
	for module, paused := range initial {
		s.Set(module, paused)
	}
	return s
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}

func (s *Switches) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[normalizeModule(module)]
}

func (s *Switches) Set(module string, paused bool) {
	key := normalizeModule(module)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[key] = true
		return
	}
	delete(s.paused, key)
}

// Paused lists the paused modules in lexical order.
func (s *Switches) Paused() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.paused))
	for module := range s.paused {
		out = append(out, module)
	}
	sort.Strings(out)
	return out
}
