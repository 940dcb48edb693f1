package request

import "sync"

// InMemoryClaimManager is the default ClaimManager: it tracks claimed
// busIDs in memory only. The privileged System Extension that actually
// seizes a device's interfaces is out of scope (spec.md §1); this just
// gives the coordinator something to wire so import bookkeeping works
// end to end.
type InMemoryClaimManager struct {
	mu      sync.RWMutex
	claimed map[string]bool
}

// NewInMemoryClaimManager returns an empty claim manager.
func NewInMemoryClaimManager() *InMemoryClaimManager {
	return &InMemoryClaimManager{claimed: make(map[string]bool)}
}

func (c *InMemoryClaimManager) IsClaimed(busID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.claimed[busID]
}

// Claim marks busID claimed. Idempotent.
func (c *InMemoryClaimManager) Claim(busID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimed[busID] = true
	return nil
}
