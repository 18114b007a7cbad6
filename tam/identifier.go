package tam

const (
	identifierMultiplier uint64 = 6364136223846793005
	identifierIncrement  uint64 = 1442695040888963407
)

// NextIdentifier returns a fresh identifier for content that has no natural key of its own. The
// sequence comes from a full-period 64-bit linear congruential generator seeded by
// CreateOptions.IdentifierSeed, so it does not repeat for 2^64-1 calls. Zero is never returned.
func (a *Atlas[M]) NextIdentifier() uint64 {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for {
		a.identifierState = a.identifierState*identifierMultiplier + identifierIncrement
		if a.identifierState != 0 {
			return a.identifierState
		}
	}
}
