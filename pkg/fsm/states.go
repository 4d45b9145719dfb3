package fsm

import (
	"fmt"
	"sync"
)

var (
	registryMu  sync.RWMutex
	definitions = map[string]*Definition{}
)

// Register adds a definition to the process-wide registry so snapshots that
// name it can be restored.
func Register(def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("fsm: definition name is required")
	}
	if def.Initial == "" {
		return fmt.Errorf("fsm: definition %q has no initial state", def.Name)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	definitions[def.Name] = def
	return nil
}

// MustRegister is Register for package init blocks.
func MustRegister(def *Definition) *Definition {
	if err := Register(def); err != nil {
		panic(err)
	}
	return def
}

// Lookup returns a registered definition.
func Lookup(name string) (*Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	def, ok := definitions[name]
	return def, ok
}

func (d *Definition) find(from State, event Event) []Transition {
	var out []Transition
	for _, t := range d.Transitions[from] {
		if t.Event == event {
			out = append(out, t)
		}
	}
	return out
}
