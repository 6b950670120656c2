// Package publisher hands per-cycle snapshots from the producer to any number of
// consumers through a two-slot channel that never blocks either side.
package publisher

import (
	"slices"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/viam-modules/viam-vllm/engine"
	"github.com/viam-modules/viam-vllm/mapgrid"
	"github.com/viam-modules/viam-vllm/transform"
)

// Publication is one complete snapshot of the fused state. Clouds are in the map
// frame; trajectories are full histories.
type Publication struct {
	Sequence uint64
	Time     time.Time
	State    engine.TrackingState
	Accuracy float64

	FusedCamera  transform.Transform
	OffsetCamera transform.Transform

	Cloud   []r3.Vector
	Normals []r3.Vector

	FusedTrajectory  []r3.Vector
	OffsetTrajectory []r3.Vector
	Correspondences  []engine.Correspondence

	Map mapgrid.Info
	// MapBroadcast marks the cycles on which consumers should refresh the target cloud.
	MapBroadcast bool
}

// Clone returns a deep copy of p.
func (p Publication) Clone() Publication {
	var out Publication
	p.copyInto(&out)
	return out
}

// copyInto deep copies p into dst, reusing the capacity of dst's slices.
func (p *Publication) copyInto(dst *Publication) {
	cloud, normals := dst.Cloud, dst.Normals
	fused, offset, corr := dst.FusedTrajectory, dst.OffsetTrajectory, dst.Correspondences

	*dst = *p
	dst.Cloud = copySlice(cloud, p.Cloud)
	dst.Normals = copySlice(normals, p.Normals)
	dst.FusedTrajectory = copySlice(fused, p.FusedTrajectory)
	dst.OffsetTrajectory = copySlice(offset, p.OffsetTrajectory)
	dst.Correspondences = copySlice(corr, p.Correspondences)
}

func copySlice[T any](dst, src []T) []T {
	if src == nil {
		return nil
	}
	if cap(dst) < len(src) {
		return slices.Clone(src)
	}
	dst = dst[:len(src)]
	copy(dst, src)
	return dst
}

// Channel is a latest-value handoff with two slots. Push writes the slot at the
// cursor and then moves the cursor, so Pop always inspects the slot completed most
// recently and never one being written. A push that is not popped before the next
// push is lost; a pop consumes what it returns.
type Channel struct {
	mu     sync.Mutex
	slots  [2]Publication
	fresh  [2]bool
	cursor int
}

// Push copies p into the channel.
func (c *Channel) Push(p Publication) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.copyInto(&c.slots[c.cursor])
	c.fresh[c.cursor] = true
	c.cursor = 1 - c.cursor
}

// Pop returns a copy of the most recent unread publication, or false if there is
// none. It never waits for the producer.
func (c *Channel) Pop() (Publication, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	latest := 1 - c.cursor
	if !c.fresh[latest] {
		return Publication{}, false
	}
	c.fresh[latest] = false
	return c.slots[latest].Clone(), true
}
