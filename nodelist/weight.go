package nodelist

import "time"

const maxWeight = 0xFFFF

// CalculateWeight derives the selection weight of a node. Nodes with fewer
// than five responses are rated by capacity, others by average latency. A node
// whose blacklisting ended less than RecoveryWindow ago is scaled down
// linearly.
func CalculateWeight(w Weight, capacity uint32, now time.Time) uint32 {
	var avg uint32
	if w.ResponseCount > 4 && w.TotalResponseTime > 0 {
		avg = w.TotalResponseTime / w.ResponseCount
	} else {
		avg = 10000 / (max(capacity, 100) + 100)
	}
	if avg == 0 {
		avg = 1
	}
	weight := maxWeight / avg

	ts := unix(now)
	window := uint64(RecoveryWindow / time.Second)
	if w.BlacklistedUntil > 0 && ts >= w.BlacklistedUntil {
		if since := ts - w.BlacklistedUntil; since < window {
			weight = weight * uint32(since*100/window) / 100
		}
	}
	return weight
}
