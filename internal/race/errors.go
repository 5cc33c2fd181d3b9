package race

import "errors"

var (
	// ErrInvalidConfig marks a precondition failure in the race inputs.
	ErrInvalidConfig = errors.New("invalid race config")
	// ErrMaxTicksExceeded means the stop condition was not met within
	// MaxTicks. It points at a trackLength/speedRange/maxTicks mismatch.
	ErrMaxTicksExceeded = errors.New("race did not finish within max ticks")
	ErrStrategyNotFound = errors.New("strategy not found")
	ErrRaceFinished     = errors.New("race already finished")
)
