// Package bridge resolves and invokes symbols that have no interpreted body:
// built-in intrinsics, native shared libraries and WebAssembly artifacts.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"snapmir/pkg/memory"
	"snapmir/pkg/mir"
	"snapmir/pkg/value"
)

var (
	ErrNotFound        = errors.New("symbol not found")
	ErrUnavailable     = errors.New("provider unavailable")
	ErrUnsupportedType = errors.New("unsupported type at foreign boundary")
)

// Host is the part of the interpreter a foreign entry may touch.
type Host interface {
	Memory() *memory.Manager
	Output() io.Writer
}

// Arg is one marshalled argument.
type Arg struct {
	Type  mir.TypeID
	Value value.Value
}

// Call carries everything an entry needs for one invocation.
type Call struct {
	Symbol string
	Host   Host
	Types  *mir.TypeTable
	Args   []Arg
	Ret    mir.TypeID
	Fixed  int // non-variadic argument count, or -1 when every argument is fixed
}

// Entry is a resolved foreign function.
type Entry interface {
	Symbol() string
	Invoke(ctx context.Context, call *Call) (value.Value, error)
}

// Provider is one source of entries.
type Provider interface {
	Name() string
	Lookup(symbol string) (Entry, error)
	Close(ctx context.Context) error
}

// ExitError ends the run successfully with Code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exit with status %d", e.Code)
}

// PanicError is raised by panicking intrinsics.
type PanicError struct {
	Msg string
}

func (e *PanicError) Error() string {
	return e.Msg
}

// CallError wraps a failure reported by a foreign implementation.
type CallError struct {
	Symbol string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("foreign call %s failed: %v", e.Symbol, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Bridge consults its providers in order and caches results per symbol.
type Bridge struct {
	providers []Provider
	cache     map[string]Entry
}

func New(providers ...Provider) *Bridge {
	return &Bridge{providers: providers, cache: make(map[string]Entry)}
}

// Open builds the default bridge: intrinsics, the running process, then
// every artifact in paths (".wasm" files through wazero, anything else as a
// native shared library).
func Open(ctx context.Context, paths []string) (*Bridge, error) {
	providers := []Provider{NewIntrinsics()}

	if proc, err := OpenLibrary(""); err == nil {
		providers = append(providers, proc)
	} else {
		log.Debug("native process symbols unavailable", "error", err)
	}

	for _, path := range paths {
		var (
			p   Provider
			err error
		)
		if strings.EqualFold(filepath.Ext(path), ".wasm") {
			p, err = OpenWasm(ctx, path)
		} else {
			p, err = OpenLibrary(path)
		}
		if err != nil {
			for _, opened := range providers {
				_ = opened.Close(ctx)
			}
			return nil, fmt.Errorf("open artifact %s: %w", path, err)
		}
		providers = append(providers, p)
	}

	return New(providers...), nil
}

// Resolve finds the entry for symbol.
func (b *Bridge) Resolve(symbol string) (Entry, error) {
	if e, ok := b.cache[symbol]; ok {
		return e, nil
	}

	for _, p := range b.providers {
		e, err := p.Lookup(symbol)
		switch {
		case err == nil:
			log.Debug("resolved foreign symbol", "symbol", symbol, "provider", p.Name())
			b.cache[symbol] = e
			return e, nil
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable):
			continue
		default:
			return nil, fmt.Errorf("resolve %s in %s: %w", symbol, p.Name(), err)
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
}

// Close releases every provider.
func (b *Bridge) Close(ctx context.Context) error {
	var errs []error
	for _, p := range b.providers {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Names lists the symbols of every provider that can enumerate them.
func (b *Bridge) Names() []string {
	var names []string
	for _, p := range b.providers {
		if n, ok := p.(interface{ Names() []string }); ok {
			names = append(names, n.Names()...)
		}
	}
	return names
}

// Providers returns the provider names in lookup order.
func (b *Bridge) Providers() []string {
	names := make([]string, len(b.providers))
	for i, p := range b.providers {
		names[i] = p.Name()
	}
	return names
}

// scalarKind classifies a type for register-style marshalling.
type scalarKind int

const (
	scalarNone scalarKind = iota
	scalarSigned
	scalarUnsigned
	scalarFloat
	scalarVoid
)

func classify(tt *mir.TypeTable, id mir.TypeID) (scalarKind, int) {
	t := tt.Get(id)
	if t == nil || tt.IsUnit(id) || t.Kind == mir.KindNever {
		return scalarVoid, 0
	}
	switch t.Kind {
	case mir.KindInt:
		return scalarSigned, t.Bits / 8
	case mir.KindUint:
		return scalarUnsigned, t.Bits / 8
	case mir.KindBool:
		return scalarUnsigned, 1
	case mir.KindChar:
		return scalarUnsigned, 4
	case mir.KindFloat:
		return scalarFloat, t.Bits / 8
	case mir.KindRef, mir.KindPtr, mir.KindFnPtr:
		if tt.IsWidePointer(id) {
			return scalarNone, 0
		}
		return scalarUnsigned, mir.PointerSize
	}
	return scalarNone, 0
}

func unsupported(tt *mir.TypeTable, id mir.TypeID) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedType, tt.String(id))
}
