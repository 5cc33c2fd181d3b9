package scan

import "errors"

var (
	ErrStrategyNotFound = errors.New("strategy not found")
	ErrInvalidRange     = errors.New("invalid index range")
	ErrInvalidTarget    = errors.New("invalid target lane")
	ErrUnsupportedPlace = errors.New("target place not supported by strategy")
)
