// Package prefs holds the per-client notification preference set: which
// event types the user wants to see. Every change is written through to
// local storage before the mutator returns.
package prefs

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cktan21/spm-relay/internal/event"
)

// StorageKey names the stored preference document.
const StorageKey = "notification_preferences"

// EventTypes lists every event type a user can toggle.
var EventTypes = []string{
	event.TaskCreated,
	event.TaskUpdated,
	event.TaskDeleted,
	event.TaskAssigned,
	event.TaskStatusChanged,
	event.DeadlineApproaching,
	event.DeadlineOverdue,
	event.RecurringTaskReset,
	event.ProjectCreated,
	event.ProjectCollaboratorAdded,
}

// Storage is client-local persistence for the preference document.
// Load returns (nil, nil) when nothing has been stored yet.
type Storage interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Preferences is a persisted event type -> enabled mapping. Types that were
// never stored default to enabled.
type Preferences struct {
	mu      sync.RWMutex
	values  map[string]bool
	storage Storage
	logger  *zap.Logger
}

// Load reads preferences from storage. Unreadable or corrupt documents fall
// back to defaults; defaults are written on first use.
func Load(storage Storage, logger *zap.Logger) (*Preferences, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Preferences{
		values:  defaults(),
		storage: storage,
		logger:  logger,
	}

	data, err := storage.Load()
	if err != nil {
		logger.Warn("loading notification preferences, using defaults", zap.Error(err))
		return p, nil
	}
	if data == nil {
		if err := p.save(); err != nil {
			return p, err
		}
		return p, nil
	}

	var stored map[string]bool
	if err := json.Unmarshal(data, &stored); err != nil {
		logger.Warn("corrupt notification preferences, using defaults", zap.Error(err))
		return p, nil
	}
	for k, v := range stored {
		p.values[k] = v
	}
	return p, nil
}

func defaults() map[string]bool {
	m := make(map[string]bool, len(EventTypes))
	for _, t := range EventTypes {
		m[t] = true
	}
	return m
}

// IsEnabled reports whether notifications of eventType should be shown.
func (p *Preferences) IsEnabled(eventType string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	enabled, ok := p.values[eventType]
	return !ok || enabled
}

func (p *Preferences) Toggle(eventType string) error {
	return p.mutate(func(m map[string]bool) {
		enabled, ok := m[eventType]
		m[eventType] = ok && !enabled
	})
}

func (p *Preferences) Enable(eventType string) error {
	return p.mutate(func(m map[string]bool) { m[eventType] = true })
}

func (p *Preferences) Disable(eventType string) error {
	return p.mutate(func(m map[string]bool) { m[eventType] = false })
}

func (p *Preferences) EnableAll() error {
	return p.mutate(func(m map[string]bool) { setAll(m, true) })
}

func (p *Preferences) DisableAll() error {
	return p.mutate(func(m map[string]bool) { setAll(m, false) })
}

// Reset restores the default of every type enabled.
func (p *Preferences) Reset() error {
	return p.EnableAll()
}

func setAll(m map[string]bool, enabled bool) {
	for _, t := range EventTypes {
		m[t] = enabled
	}
	for k := range m {
		m[k] = enabled
	}
}

// Snapshot returns a copy of the full mapping.
func (p *Preferences) Snapshot() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]bool, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Types returns the known event types followed by any extra stored types,
// in a stable order for display.
func (p *Preferences) Types() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	types := append([]string(nil), EventTypes...)
	known := make(map[string]bool, len(EventTypes))
	for _, t := range EventTypes {
		known[t] = true
	}
	var extra []string
	for k := range p.values {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(types, extra...)
}

// mutate applies fn to a copy and keeps it only once it has been stored.
func (p *Preferences) mutate(fn func(map[string]bool)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]bool, len(p.values))
	for k, v := range p.values {
		next[k] = v
	}
	fn(next)
	if err := p.store(next); err != nil {
		return err
	}
	p.values = next
	return nil
}

func (p *Preferences) save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store(p.values)
}

func (p *Preferences) store(values map[string]bool) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}
	if err := p.storage.Save(data); err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}
	return nil
}
