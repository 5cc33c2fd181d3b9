package race

import "fmt"

const (
	// BpsScale is 100% in basis points.
	BpsScale = 10000
	// DefaultSpeedRange is the upper bound of the per-tick base speed draw.
	DefaultSpeedRange = 10
	// Overshoot is how far past the track every lane must run before a
	// batched race stops, so trailing lanes finish on screen.
	Overshoot = 10
	// MaxTicksLimit caps MaxTicks to keep frame buffers bounded.
	MaxTicksLimit = 100_000
	// MaxTrackLength is past anything MaxTicksLimit ticks can cover at the
	// widest speed range, and keeps TrackLength+Overshoot and every distance
	// exact in the reference implementation's float64 numbers.
	MaxTrackLength = 1 << 50

	MinScore = 1
	MaxScore = 10
)

// Config holds the scalar inputs of one race. The lane count is len(Scores).
type Config struct {
	Scores      []int  `json:"scores"`
	MaxTicks    int    `json:"max_ticks"`
	SpeedRange  uint64 `json:"speed_range,omitempty"`
	TrackLength uint64 `json:"track_length"`
}

// Lanes returns the number of lanes in the race.
func (c Config) Lanes() int {
	return len(c.Scores)
}

// WithDefaults fills in optional fields.
func (c Config) WithDefaults() Config {
	if c.SpeedRange == 0 {
		c.SpeedRange = DefaultSpeedRange
	}
	return c
}

// Validate checks the config against the limits of a strategy.
func (c Config) Validate(spec StrategySpec) error {
	if len(c.Scores) == 0 {
		return fmt.Errorf("%w: at least one lane is required", ErrInvalidConfig)
	}
	if spec.MaxLanes > 0 && len(c.Scores) > spec.MaxLanes {
		return fmt.Errorf("%w: %s supports at most %d lanes, got %d", ErrInvalidConfig, spec.ID, spec.MaxLanes, len(c.Scores))
	}
	if c.MaxTicks <= 0 {
		return fmt.Errorf("%w: max_ticks must be positive", ErrInvalidConfig)
	}
	if c.MaxTicks > MaxTicksLimit {
		return fmt.Errorf("%w: max_ticks too large (max %d)", ErrInvalidConfig, MaxTicksLimit)
	}
	if c.TrackLength == 0 {
		return fmt.Errorf("%w: track_length must be positive", ErrInvalidConfig)
	}
	if c.TrackLength > MaxTrackLength {
		return fmt.Errorf("%w: track_length too large (max %d)", ErrInvalidConfig, uint64(MaxTrackLength))
	}
	if c.SpeedRange == 0 {
		return fmt.Errorf("%w: speed_range must be positive", ErrInvalidConfig)
	}
	if spec.MaxSpeedRange > 0 && c.SpeedRange > spec.MaxSpeedRange {
		return fmt.Errorf("%w: %s supports speed_range up to %d, got %d", ErrInvalidConfig, spec.ID, spec.MaxSpeedRange, c.SpeedRange)
	}
	return nil
}
