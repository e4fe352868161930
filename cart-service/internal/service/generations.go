package service

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const generationStripes = 1024

// cartGenerations counts committed mutations per cart over a fixed table of stripes.
// Carts sharing a stripe only cost each other a skipped cache fill.
type cartGenerations struct {
	stripes [generationStripes]atomic.Uint64
}

func (g *cartGenerations) stripe(cartID string) *atomic.Uint64 {
	return &g.stripes[xxhash.Sum64String(cartID)%generationStripes]
}

func (g *cartGenerations) current(cartID string) uint64 {
	return g.stripe(cartID).Load()
}

func (g *cartGenerations) bump(cartID string) {
	g.stripe(cartID).Add(1)
}
