package progress

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Phase is a named lifecycle stage of a tracked load. Two phases are equal when
// their IDs match; the display name is informational only.
type Phase struct {
	// ID is the stable identifier used for equality and lookups.
	ID string
	// DisplayName is the human-friendly label shown in logs and APIs.
	DisplayName string
	// Terminal marks phases after which no further progress is expected.
	Terminal bool
}

// Built-in phases.
var (
	PhaseStarted    = Phase{ID: "started", DisplayName: "Started"}
	PhaseInProgress = Phase{ID: "in_progress", DisplayName: "In Progress"}
	PhaseComplete   = Phase{ID: "complete", DisplayName: "Complete", Terminal: true}
	PhaseFailed     = Phase{ID: "failed", DisplayName: "Failed", Terminal: true}
	PhaseCancelled  = Phase{ID: "cancelled", DisplayName: "Cancelled", Terminal: true}
)

// successTokens decide whether a terminal phase counts as success. A custom
// terminal phase must embed one of them in its ID or display name, otherwise it
// is treated as a failure.
var successTokens = []string{"complete", "success", "done", "finished"}

// NewPhase builds a custom phase. The display name defaults to the ID.
func NewPhase(id, displayName string, terminal bool) Phase {
	if displayName == "" {
		displayName = id
	}
	return Phase{ID: id, DisplayName: displayName, Terminal: terminal}
}

// Equal reports whether both phases share the same ID.
func (p Phase) Equal(other Phase) bool {
	return p.ID == other.ID
}

// IsTerminal reports the terminal flag fixed at construction.
func (p Phase) IsTerminal() bool {
	return p.Terminal
}

// IsSuccess reports whether p is a terminal phase whose ID or display name
// contains one of the success tokens (case-insensitive).
func (p Phase) IsSuccess() bool {
	if !p.Terminal {
		return false
	}
	id := strings.ToLower(p.ID)
	name := strings.ToLower(p.DisplayName)
	for _, token := range successTokens {
		if strings.Contains(id, token) || strings.Contains(name, token) {
			return true
		}
	}
	return false
}

// String returns the display name, falling back to the ID.
func (p Phase) String() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// PhaseRegistry indexes phases by ID. It is safe for concurrent use; lookups
// come from HTTP handlers while configuration registers phases at startup.
type PhaseRegistry struct {
	mu     sync.RWMutex
	phases map[string]Phase
}

// NewPhaseRegistry returns a registry preloaded with the built-in phases.
func NewPhaseRegistry() *PhaseRegistry {
	r := &PhaseRegistry{phases: make(map[string]Phase)}
	for _, p := range []Phase{PhaseStarted, PhaseInProgress, PhaseComplete, PhaseFailed, PhaseCancelled} {
		r.phases[p.ID] = p
	}
	return r
}

// Register adds a custom phase. Built-in or previously registered IDs cannot be
// redefined with a different terminal flag.
func (r *PhaseRegistry) Register(p Phase) error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("phase id is required")
	}
	key := strings.ToLower(p.ID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.phases[key]; ok && existing.Terminal != p.Terminal {
		return fmt.Errorf("phase %q already registered with terminal=%t", p.ID, existing.Terminal)
	}
	if p.DisplayName == "" {
		p.DisplayName = p.ID
	}
	r.phases[key] = p
	return nil
}

// Lookup finds a phase by ID, ignoring case.
func (r *PhaseRegistry) Lookup(id string) (Phase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.phases[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}

// All returns the registered phases ordered by ID.
func (r *PhaseRegistry) All() []Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Phase, 0, len(r.phases))
	for _, p := range r.phases {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
