package interpreter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"snapmir/pkg/bridge"
	"snapmir/pkg/color"
	"snapmir/pkg/memory"
	"snapmir/pkg/mir"
	"snapmir/pkg/stack"
)

// FaultKind classifies why a run stopped abnormally.
type FaultKind int

const (
	OutOfBounds FaultKind = iota + 1
	UseAfterFree
	ArithmeticFault
	StackOverflow
	UnresolvedSymbol
	UnsupportedConstruct
	InvalidFree
	OutOfMemory
	Panic
	Unreachable
	Cancelled
	InvalidProgram
)

var faultNames = map[FaultKind]string{
	OutOfBounds:          "OutOfBounds",
	UseAfterFree:         "UseAfterFree",
	ArithmeticFault:      "ArithmeticFault",
	StackOverflow:        "StackOverflow",
	UnresolvedSymbol:     "UnresolvedSymbol",
	UnsupportedConstruct: "UnsupportedConstruct",
	InvalidFree:          "InvalidFree",
	OutOfMemory:          "OutOfMemory",
	Panic:                "Panic",
	Unreachable:          "Unreachable",
	Cancelled:            "Cancelled",
	InvalidProgram:       "InvalidProgram",
}

func (k FaultKind) String() string {
	if s, ok := faultNames[k]; ok {
		return s
	}
	return fmt.Sprintf("FaultKind(%d)", int(k))
}

// Sentinels matched by errors.Is against any *Fault of the same kind.
var (
	ErrOutOfBounds          = errors.New("out of bounds")
	ErrUseAfterFree         = errors.New("use after free")
	ErrArithmeticFault      = errors.New("arithmetic fault")
	ErrStackOverflow        = errors.New("stack overflow")
	ErrUnresolvedSymbol     = errors.New("unresolved symbol")
	ErrUnsupportedConstruct = errors.New("unsupported construct")
	ErrInvalidFree          = errors.New("invalid free")
	ErrOutOfMemory          = errors.New("out of memory")
	ErrPanic                = errors.New("panic")
	ErrUnreachable          = errors.New("unreachable")
	ErrCancelled            = errors.New("cancelled")
	ErrInvalidProgram       = errors.New("invalid program")
)

func (k FaultKind) sentinel() error {
	switch k {
	case OutOfBounds:
		return ErrOutOfBounds
	case UseAfterFree:
		return ErrUseAfterFree
	case ArithmeticFault:
		return ErrArithmeticFault
	case StackOverflow:
		return ErrStackOverflow
	case UnresolvedSymbol:
		return ErrUnresolvedSymbol
	case UnsupportedConstruct:
		return ErrUnsupportedConstruct
	case InvalidFree:
		return ErrInvalidFree
	case OutOfMemory:
		return ErrOutOfMemory
	case Panic:
		return ErrPanic
	case Unreachable:
		return ErrUnreachable
	case Cancelled:
		return ErrCancelled
	case InvalidProgram:
		return ErrInvalidProgram
	}
	return nil
}

// TraceEntry locates one frame of a fault. Statement is -1 when the frame
// was at its terminator.
type TraceEntry struct {
	Func      string
	Block     mir.BlockID
	Statement int
	Text      string
}

func (e TraceEntry) String() string {
	loc := fmt.Sprintf("%s bb%d", e.Func, e.Block)
	if e.Statement >= 0 {
		loc += fmt.Sprintf("[%d]", e.Statement)
	}
	if e.Text == "" {
		return loc
	}
	return loc + ": " + e.Text
}

// Fault is the error a run terminates with. Trace runs from the innermost
// frame outwards.
type Fault struct {
	Kind  FaultKind
	Msg   string
	Err   error
	Trace []TraceEntry
}

func faultf(kind FaultKind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapFault(kind FaultKind, err error) *Fault {
	return &Fault{Kind: kind, Msg: err.Error(), Err: err}
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString(f.Kind.String())
	b.WriteString(": ")
	b.WriteString(f.Msg)
	if len(f.Trace) > 0 {
		b.WriteString(" at ")
		b.WriteString(f.Trace[0].String())
	}
	return b.String()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func (f *Fault) Is(target error) bool {
	return target != nil && target == f.Kind.sentinel()
}

// Report writes a human readable description of the fault with its trace.
func (f *Fault) Report(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", color.BrightRedText(color.BoldText("error["+f.Kind.String()+"]:")), f.Msg)
	for _, e := range f.Trace {
		fmt.Fprintf(w, "  %s %s\n", color.GrayText("at"), color.Highlight(e.String(), e.Func))
	}
}

// classify maps errors from memory, the bridge and the runtime onto a fault.
func classify(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}

	var p *bridge.PanicError
	switch {
	case errors.Is(err, memory.ErrOutOfBounds):
		return wrapFault(OutOfBounds, err)
	case errors.Is(err, memory.ErrUseAfterFree):
		return wrapFault(UseAfterFree, err)
	case errors.Is(err, memory.ErrInvalidFree):
		return wrapFault(InvalidFree, err)
	case errors.Is(err, memory.ErrOutOfMemory):
		return wrapFault(OutOfMemory, err)
	case errors.Is(err, bridge.ErrArithmetic):
		return wrapFault(ArithmeticFault, err)
	case errors.Is(err, stack.ErrOverflow):
		return wrapFault(StackOverflow, err)
	case errors.Is(err, bridge.ErrUnsupportedType), errors.Is(err, mir.ErrUnsizedLayout):
		return wrapFault(UnsupportedConstruct, err)
	case errors.Is(err, bridge.ErrNotFound):
		return wrapFault(UnresolvedSymbol, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrMaxStepsExceeded):
		return wrapFault(Cancelled, err)
	case errors.As(err, &p):
		return &Fault{Kind: Panic, Msg: p.Msg, Err: err}
	}

	var ce *bridge.CallError
	if errors.As(err, &ce) {
		return wrapFault(Panic, err)
	}
	return wrapFault(InvalidProgram, err)
}

// assertKind picks the fault raised by a failed assert terminator.
func assertKind(msg string) FaultKind {
	switch {
	case strings.Contains(msg, "overflow"), strings.Contains(msg, "divide"), strings.Contains(msg, "remainder"):
		return ArithmeticFault
	case strings.Contains(msg, "out of bounds"):
		return OutOfBounds
	}
	return Panic
}
