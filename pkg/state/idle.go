package state

// appendSample appends a CPU sample to a bounded ring of the given capacity
// (the project's idle-minutes setting), discarding the oldest sample once
// full (spec.md §4.2 "Idle-eviction policy").
func appendSample(ring []CPUSample, sample CPUSample, capacity int) []CPUSample {
	if capacity <= 0 {
		return nil
	}
	ring = append(ring, sample)
	if len(ring) > capacity {
		ring = ring[len(ring)-capacity:]
	}
	return ring
}

// shouldEvict reports whether a full ring's cpu-per-minute rate is below
// threshold, i.e. the project looks idle. capacity is the ring's configured
// size (== idle-minutes); the rate is the tick delta between the oldest and
// newest samples divided by the minutes elapsed between them.
func shouldEvict(ring []CPUSample, capacity int, threshold float64) bool {
	if capacity <= 0 || len(ring) < capacity {
		return false // ring not yet full: not enough history to judge
	}
	oldest := ring[0]
	newest := ring[len(ring)-1]
	minutes := newest.SampledAt.Sub(oldest.SampledAt).Minutes()
	if minutes <= 0 {
		return false
	}
	cpuPerMinute := float64(newest.TotalTicks-oldest.TotalTicks) / minutes
	return cpuPerMinute < threshold
}
