package race

import (
	"fmt"
	"sort"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
)

// Termination names a stop condition.
type Termination string

const (
	StopFirstToFinish    Termination = "first_to_finish"
	StopAllPastOvershoot Termination = "all_past_overshoot"
)

// StrategySpec describes one generation of the simulator.
type StrategySpec struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	MinSpeedBps   uint64      `json:"min_speed_bps"`
	Termination   Termination `json:"termination"`
	FinishOrder   bool        `json:"finish_order"`
	MaxLanes      int         `json:"max_lanes"`
	MaxSpeedRange uint64      `json:"max_speed_range"`
}

// Result is the immutable outcome of one simulated race.
type Result struct {
	Strategy    string       `json:"strategy"`
	Seed        engine.Seed  `json:"seed"`
	Config      Config       `json:"config"`
	Ticks       int          `json:"ticks"`
	Frames      [][]uint64   `json:"frames,omitempty"`
	Final       []uint64     `json:"final"`
	Winners     []int        `json:"winners"`
	FinishOrder *FinishOrder `json:"finish_order,omitempty"`
}

// Strategy is one simulator generation. Generations are not interchangeable:
// the same seed produces different races under different strategies.
type Strategy interface {
	Spec() StrategySpec
	// Run simulates a full race, recording one frame per tick when
	// withFrames is set.
	Run(seed engine.Seed, cfg Config, withFrames bool) (*Result, error)
}

var registry = make(map[string]Strategy)

// Register adds a strategy to the registry.
func Register(s Strategy) {
	registry[s.Spec().ID] = s
}

// Get retrieves a strategy by ID.
func Get(id string) (Strategy, bool) {
	s, ok := registry[id]
	return s, ok
}

// List returns the specs of all registered strategies sorted by ID.
func List() []StrategySpec {
	specs := make([]StrategySpec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// IDs returns the registered strategy IDs sorted.
func IDs() []string {
	specs := List()
	ids := make([]string, len(specs))
	for i, s := range specs {
		ids[i] = s.ID
	}
	return ids
}

// Run looks up a strategy and simulates with frames recorded.
func Run(strategy string, seed engine.Seed, cfg Config) (*Result, error) {
	s, ok := Get(strategy)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStrategyNotFound, strategy)
	}
	return s.Run(seed, cfg, true)
}

func init() {
	Register(&SequentialStrategy{})
	Register(&BatchedStrategy{})
}
