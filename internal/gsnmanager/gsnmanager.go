package gsnmanager

import (
	"go.uber.org/atomic"
)

// GsnManager owns the global sequence number: the version of the newest
// successful commit. It only moves forward, one step per commit.
type GsnManager struct {
	gsn atomic.Uint64
}

func NewGsnManager(start uint64) *GsnManager {
	gm := &GsnManager{}
	gm.gsn.Store(start)
	return gm
}

// Current is the snapshot version new transactions start at.
func (gm *GsnManager) Current() uint64 {
	return gm.gsn.Load()
}

// Next is the version the next commit will be applied at. Callers hold the
// commit lock between Next and Advance.
func (gm *GsnManager) Next() uint64 {
	return gm.gsn.Load() + 1
}

// Advance publishes version as committed.
func (gm *GsnManager) Advance(version uint64) {
	gm.gsn.Store(version)
}
