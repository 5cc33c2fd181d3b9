package race

// ClampScore forces a performance score into [MinScore, MaxScore].
func ClampScore(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// SpeedBps maps a score onto [minBps, BpsScale] linearly, rounding down.
func SpeedBps(score int, minBps uint64) uint64 {
	s := uint64(ClampScore(score))
	return minBps + (s-1)*(BpsScale-minBps)/9
}

func laneSpeeds(scores []int, minBps uint64) []uint64 {
	out := make([]uint64, len(scores))
	for i, s := range scores {
		out[i] = SpeedBps(s, minBps)
	}
	return out
}

// scaledSpeed applies the handicap to a base speed, returning the whole
// units and the remainder in basis points.
func scaledSpeed(base, speedBps uint64) (q, rem uint64) {
	p := base * speedBps
	return p / BpsScale, p % BpsScale
}

// stepLength guarantees progress: every lane moves at least one unit a tick.
func stepLength(q uint64) uint64 {
	if q < 1 {
		return 1
	}
	return q
}
