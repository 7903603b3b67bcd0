package common

import (
	"errors"
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

// Pauses is a mutable PauseView keyed by lower-cased module name.
type Pauses struct {
	mu      sync.RWMutex
	modules map[string]bool
}

// NewPauses seeds the view with the provided module flags.
func NewPauses(initial map[string]bool) *Pauses {
	p := &Pauses{modules: make(map[string]bool, len(initial))}
	for name, paused := range initial {
		p.modules[normalizeModule(name)] = paused
	}
	return p
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modules[normalizeModule(module)]
}

// Set toggles the pause flag for module.
func (p *Pauses) Set(module string, paused bool) {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.modules == nil {
		p.modules = make(map[string]bool)
	}
	p.modules[normalizeModule(module)] = paused
	p.mu.Unlock()
}

func normalizeModule(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
