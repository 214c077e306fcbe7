package openai

import (
	"sync"

	"github.com/poiesic/docportal/ai"
)

// gate tracks in-flight calls of a provider's services. Closing it waits
// for the calls already running and refuses new ones.
type gate struct {
	mu     sync.RWMutex
	closed bool
}

// enter must be paired with leave when it returns nil.
func (g *gate) enter() error {
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return ai.ErrProviderClosed
	}
	return nil
}

func (g *gate) leave() {
	g.mu.RUnlock()
}

// close reports whether this call closed the gate.
func (g *gate) close() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.closed = true
	return true
}
