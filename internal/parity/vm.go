package parity

import (
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
	"github.com/MJE43/race-pf-replay-go/internal/race"
)

//go:embed reference.js
var referenceSource string

// MaxBound is the largest dice bound the reference can draw exactly; JS
// numbers lose integer precision past 2^53.
const MaxBound = 1 << 48

var (
	ErrBoundUnsupported = errors.New("bound not supported by reference")
	ErrReferenceFailed  = errors.New("reference simulator failed")
)

const (
	loadTimeout = 2 * time.Second
	callTimeout = 10 * time.Second
)

var (
	compileOnce sync.Once
	program     *goja.Program
	compileErr  error
)

func referenceProgram() (*goja.Program, error) {
	compileOnce.Do(func() {
		program, compileErr = goja.Compile("reference.js", referenceSource, true)
	})
	return program, compileErr
}

// Trace is a race as produced by the reference simulator.
type Trace struct {
	Ticks       int        `json:"ticks"`
	Frames      [][]uint64 `json:"frames"`
	Final       []uint64   `json:"final"`
	Winners     []int      `json:"winners"`
	FinishOrder [][]int    `json:"finish_order,omitempty"`
}

// VM is a goja runtime loaded with the reference simulator. A VM is not
// safe for concurrent use; calls are serialized.
type VM struct {
	runtime *goja.Runtime
	mu      sync.Mutex

	rolls goja.Callable
	run   goja.Callable
}

// NewVM creates a runtime, injects keccak256 and loads the reference.
func NewVM() (*VM, error) {
	prog, err := referenceProgram()
	if err != nil {
		return nil, fmt.Errorf("compile reference: %w", err)
	}

	vm := &VM{runtime: goja.New()}
	vm.injectGlobalFunctions()

	err = vm.runWithTimeout(loadTimeout, func() error {
		_, err := vm.runtime.RunProgram(prog)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load reference: %w", err)
	}

	if vm.rolls, err = vm.function("rolls"); err != nil {
		return nil, err
	}
	if vm.run, err = vm.function("run"); err != nil {
		return nil, err
	}
	return vm, nil
}

// injectGlobalFunctions exposes the engine's Keccak-256 as keccak256(hex).
func (vm *VM) injectGlobalFunctions() {
	vm.runtime.Set("keccak256", func(call goja.FunctionCall) goja.Value {
		data, err := hex.DecodeString(call.Argument(0).String())
		if err != nil {
			panic(vm.runtime.NewGoError(fmt.Errorf("keccak256: %w", err)))
		}
		return vm.runtime.ToValue(engine.Keccak256(data).Hex())
	})

	vm.runtime.Set("require", goja.Undefined())
	vm.runtime.Set("eval", goja.Undefined())
}

func (vm *VM) function(name string) (goja.Callable, error) {
	fn := vm.runtime.Get(name)
	if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
		return nil, fmt.Errorf("reference does not define %s()", name)
	}
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, fmt.Errorf("reference %s is not a function", name)
	}
	return callable, nil
}

// call invokes a reference function and returns its string result.
func (vm *VM) call(fn goja.Callable, args ...string) (string, error) {
	var out string
	err := vm.runWithTimeout(callTimeout, func() error {
		vals := make([]goja.Value, len(args))
		for i, a := range args {
			vals[i] = vm.runtime.ToValue(a)
		}
		res, err := fn(goja.Undefined(), vals...)
		if err != nil {
			return err
		}
		out = res.String()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrReferenceFailed, err)
	}
	return out, nil
}

// Rolls draws bounds from a fresh reference stream seeded with seed.
func (vm *VM) Rolls(seed engine.Seed, bounds []uint64) ([]uint64, error) {
	for i, b := range bounds {
		if b == 0 {
			return nil, fmt.Errorf("bounds[%d]: %w", i, engine.ErrInvalidBound)
		}
		if b > MaxBound {
			return nil, fmt.Errorf("%w: bounds[%d] = %d exceeds 2^48", ErrBoundUnsupported, i, b)
		}
	}
	encoded, err := json.Marshal(bounds)
	if err != nil {
		return nil, err
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	raw, err := vm.call(vm.rolls, seed.Hex(), string(encoded))
	if err != nil {
		return nil, err
	}
	var out []uint64
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode reference rolls: %w", err)
	}
	return out, nil
}

// Run simulates one race in the reference. The config is used as given;
// apply defaults first.
func (vm *VM) Run(strategy string, seed engine.Seed, cfg race.Config) (*Trace, error) {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	raw, err := vm.call(vm.run, strategy, seed.Hex(), string(encoded))
	if err != nil {
		return nil, err
	}
	var trace Trace
	if err := json.Unmarshal([]byte(raw), &trace); err != nil {
		return nil, fmt.Errorf("decode reference trace: %w", err)
	}
	return &trace, nil
}

// isMaxTicks reports whether a reference failure is max ticks exhaustion.
func isMaxTicks(err error) bool {
	return err != nil && strings.Contains(err.Error(), "max ticks exceeded")
}

func (vm *VM) runWithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		vm.runtime.Interrupt("reference execution timeout")
		err := <-done
		vm.runtime.ClearInterrupt()
		if err != nil {
			return fmt.Errorf("reference timed out: %w", err)
		}
		return fmt.Errorf("reference timed out")
	}
}
