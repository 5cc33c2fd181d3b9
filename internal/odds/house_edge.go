package odds

import (
	"fmt"
	"sync/atomic"
)

// HouseEdge is the process-wide house edge. One privileged writer stores,
// any number of validators load. Changing it never touches odds tables that
// were already accepted.
type HouseEdge struct {
	bps atomic.Uint32
}

// NewHouseEdge returns a holder initialised to bps.
func NewHouseEdge(bps uint32) (*HouseEdge, error) {
	h := &HouseEdge{}
	if err := h.Store(bps); err != nil {
		return nil, err
	}
	return h, nil
}

// Load returns the current house edge in basis points.
func (h *HouseEdge) Load() uint32 {
	return h.bps.Load()
}

// Store replaces the house edge.
func (h *HouseEdge) Store(bps uint32) error {
	if bps > MaxHouseEdgeBps {
		return fmt.Errorf("%w: %d bps (max %d)", ErrHouseEdgeOutOfRange, bps, MaxHouseEdgeBps)
	}
	h.bps.Store(bps)
	return nil
}
