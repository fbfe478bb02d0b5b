// Package interpreter executes MIR programs one step at a time over the
// checked address space of package memory.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"snapmir/pkg/bridge"
	"snapmir/pkg/memory"
	"snapmir/pkg/mir"
	"snapmir/pkg/stack"
	"snapmir/pkg/value"
)

// DefaultMaxDepth bounds the call stack when no WithMaxDepth option is given.
const DefaultMaxDepth = 1024

// State is the phase of the execution state machine.
type State int

const (
	Running State = iota
	Calling
	Returning
	Unwinding
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Calling:
		return "calling"
	case Returning:
		return "returning"
	case Unwinding:
		return "unwinding"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Resolver finds implementations for symbols without an interpreted body.
type Resolver interface {
	Resolve(symbol string) (bridge.Entry, error)
}

// Interpreter runs one program. A run is started with Start and advanced
// with Step, or driven to completion with Run; each Start discards the
// state of the previous run.
type Interpreter struct {
	prog  *mir.Program
	types *mir.TypeTable
	syms  *mir.SymbolTable

	resolver  Resolver
	out       io.Writer
	overrides map[string]bool
	maxSteps  int // 0 = unlimited
	maxDepth  int
	maxBytes  int // 0 = unlimited

	layouts map[*mir.Function]*frameLayout

	// run state, rebuilt by Start
	mem      *memory.Manager
	stack    *stack.Stack[*Frame]
	state    State
	pending  *pendingCall
	ret      value.Value // value carried from a return to the caller's destination
	foreign  bool        // ret came from a bridge entry rather than a popped frame
	fault    *Fault      // fault being unwound, nil while running normally
	err      error       // final error once terminated
	result   value.Value
	resultTy mir.TypeID
	exited   bool
	code     int
	steps    int
	depth    int
	statics  []uint64
	literals map[string]uint64
	calls    int // foreign calls performed
}

type Option func(*Interpreter)

// WithWriter sets where program output goes.
func WithWriter(w io.Writer) Option {
	return func(i *Interpreter) { i.out = w }
}

// WithMaxSteps bounds the number of steps of a run. Exceeding it cancels the run.
func WithMaxSteps(n int) Option {
	return func(i *Interpreter) { i.maxSteps = n }
}

// WithMaxDepth bounds the call stack.
func WithMaxDepth(n int) Option {
	return func(i *Interpreter) { i.maxDepth = n }
}

// WithMemoryLimit bounds the live bytes of the address space.
func WithMemoryLimit(n int) Option {
	return func(i *Interpreter) { i.maxBytes = n }
}

// WithResolver sets where foreign symbols are looked up.
func WithResolver(r Resolver) Option {
	return func(i *Interpreter) { i.resolver = r }
}

// WithNativeOverrides routes calls to the named functions through the
// resolver even though the program defines them.
func WithNativeOverrides(symbols ...string) Option {
	return func(i *Interpreter) {
		for _, s := range symbols {
			i.overrides[s] = true
		}
	}
}

// NewInterpreter prepares prog for execution. The program is finalized if
// that has not happened yet.
func NewInterpreter(prog *mir.Program, opts ...Option) (*Interpreter, error) {
	if prog.Symbols() == nil {
		if err := prog.Finalize(); err != nil {
			return nil, err
		}
	}

	it := &Interpreter{
		prog:      prog,
		types:     prog.Types,
		syms:      prog.Symbols(),
		overrides: make(map[string]bool),
		maxDepth:  DefaultMaxDepth,
		layouts:   make(map[*mir.Function]*frameLayout),
		state:     Terminated,
		err:       ErrNotStarted,
	}
	for _, o := range opts {
		o(it)
	}

	if it.out == nil {
		it.out = os.Stdout
	}
	if it.resolver == nil {
		it.resolver = bridge.New(bridge.NewIntrinsics())
	}
	if it.maxDepth <= 0 {
		it.maxDepth = DefaultMaxDepth
	}
	return it, nil
}

// Memory implements bridge.Host.
func (i *Interpreter) Memory() *memory.Manager {
	return i.mem
}

// Output implements bridge.Host.
func (i *Interpreter) Output() io.Writer {
	return i.out
}

func (i *Interpreter) State() State {
	return i.state
}

// Depth is the number of frames currently on the call stack.
func (i *Interpreter) Depth() int {
	if i.stack == nil {
		return 0
	}
	return i.stack.Size()
}

// Result summarizes a finished run.
type Result struct {
	Value    value.Value
	Type     mir.TypeID
	Exited   bool // the program called exit
	ExitCode int
	Steps    int
	MaxDepth int
	Calls    int // foreign calls
	Stats    memory.Stats
}

// reset discards every trace of the previous run.
func (i *Interpreter) reset() {
	var opts []memory.Option
	if i.maxBytes > 0 {
		opts = append(opts, memory.WithMaxBytes(i.maxBytes))
	}
	i.mem = memory.NewManager(opts...)
	i.stack = stack.NewStack[*Frame](i.maxDepth)
	i.state = Running
	i.pending = nil
	i.ret = value.Unit
	i.foreign = false
	i.fault = nil
	i.err = nil
	i.result = value.Unit
	i.resultTy = mir.NoType
	i.exited = false
	i.code = 0
	i.steps = 0
	i.depth = 0
	i.statics = nil
	i.literals = make(map[string]uint64)
	i.calls = 0
}

// Start begins a run of entry with the given argument values. Errors that
// prevent the first frame from being pushed terminate the run immediately.
func (i *Interpreter) Start(entry string, args ...value.Value) error {
	i.reset()
	log.Debug("starting run", "entry", entry, "args", len(args))

	if err := i.materializeStatics(); err != nil {
		return i.terminate(classify(err))
	}

	fn, ok := i.prog.Func(entry)
	if !ok {
		f := faultf(UnresolvedSymbol, "entry function %s is not defined", entry)
		if s, ok := bridge.Suggest(entry, i.syms.FunctionNames()); ok {
			f.Msg += fmt.Sprintf(" (did you mean %s?)", s)
		}
		return i.terminate(f)
	}
	if len(args) != fn.ArgCount {
		return i.terminate(faultf(InvalidProgram, "%s takes %d arguments, got %d", entry, fn.ArgCount, len(args)))
	}
	i.resultTy = fn.Locals[0].Type

	if err := i.pushFrame(fn, args, frameCall, nil); err != nil {
		return i.terminate(classify(err))
	}
	return nil
}

// Step performs one transition of the state machine. It reports whether the
// run has terminated; the error is the run's fault, if it ended with one.
func (i *Interpreter) Step(ctx context.Context) (bool, error) {
	if i.state == Terminated {
		return true, i.err
	}
	i.steps++

	switch i.state {
	case Running:
		i.stepRunning(ctx)
	case Calling:
		i.stepCalling(ctx)
	case Returning:
		i.stepReturning()
	case Unwinding:
		i.stepUnwinding()
	}

	if i.state == Terminated {
		return true, i.err
	}
	return false, nil
}

// Run executes entry to completion.
func (i *Interpreter) Run(ctx context.Context, entry string, args ...value.Value) (*Result, error) {
	if err := i.Start(entry, args...); err != nil {
		return i.Result(), err
	}
	for {
		done, err := i.Step(ctx)
		if done {
			return i.Result(), err
		}
	}
}

// Result describes the current run. It is complete once the run terminated.
func (i *Interpreter) Result() *Result {
	r := &Result{
		Value:    i.result,
		Type:     i.resultTy,
		Exited:   i.exited,
		ExitCode: i.code,
		Steps:    i.steps,
		MaxDepth: i.depth,
		Calls:    i.calls,
	}
	if i.mem != nil {
		r.Stats = i.mem.Stats()
	}
	return r
}

// materializeStatics gives every static its fixed allocation.
func (i *Interpreter) materializeStatics() error {
	i.statics = make([]uint64, len(i.prog.Statics))
	for n, s := range i.prog.Statics {
		size := i.types.SizeOf(s.Type)
		if len(s.Init) > size {
			return faultf(InvalidProgram, "static %s: initializer has %d bytes, type %s has %d",
				s.Name, len(s.Init), i.types.String(s.Type), size)
		}
		id, err := i.mem.Allocate(memory.Static, size, i.types.AlignOf(s.Type), s.Name)
		if err != nil {
			return err
		}
		if len(s.Init) > 0 {
			if err := i.mem.Write(id, 0, s.Init); err != nil {
				return err
			}
		}
		a, _ := i.mem.Get(id)
		i.statics[n] = a.Base
	}
	return nil
}

// literal returns the address of the static bytes of a string constant.
// Every literal text is materialized once per run.
func (i *Interpreter) literal(s string) (uint64, error) {
	if addr, ok := i.literals[s]; ok {
		return addr, nil
	}
	id, err := i.mem.Allocate(memory.Static, len(s), 1, "str literal")
	if err != nil {
		return 0, err
	}
	if err := i.mem.Write(id, 0, []byte(s)); err != nil {
		return 0, err
	}
	a, _ := i.mem.Get(id)
	i.literals[s] = a.Base
	return a.Base, nil
}

// terminate ends the run. Every frame and static is released; heap blocks
// the program never freed are reported and left in the statistics.
func (i *Interpreter) terminate(f *Fault) error {
	for {
		fr, ok := i.stack.Pop()
		if !ok {
			break
		}
		i.release(fr)
	}
	for _, a := range i.mem.LiveAllocations(memory.Static) {
		_ = i.mem.Deallocate(a.ID)
	}
	if leaked := i.mem.LiveAllocations(memory.Heap); len(leaked) > 0 {
		log.Warn("heap allocations leaked at end of run", "count", len(leaked))
	}

	i.state = Terminated
	i.pending = nil
	if f != nil {
		log.Debug("run faulted", "kind", f.Kind, "msg", f.Msg)
		i.err = f
		return f
	}
	i.err = nil
	return nil
}

var (
	ErrNotStarted       = errors.New("interpreter has no active run")
	ErrMaxStepsExceeded = errors.New("maximum steps exceeded")
)
