package interpreter

import (
	"fmt"

	"github.com/charmbracelet/log"

	"snapmir/pkg/memory"
	"snapmir/pkg/mir"
	"snapmir/pkg/value"
)

// frameRole tells Returning and Unwinding what the caller expects.
type frameRole int

const (
	frameCall  frameRole = iota // ordinary call or drop glue
	frameTry                    // body of catch_unwind; a fault stops here
	frameCatch                  // handler run after a caught fault
)

// catchHandler is what a try frame needs to recover from a fault.
type catchHandler struct {
	symbol string // interpreted handler, empty when there is none
	data   value.Value
}

// Frame is one activation of an interpreted function.
type Frame struct {
	Fn      *mir.Function
	Alloc   memory.AllocID // backing storage of every local
	Base    uint64         // address of the allocation
	Block   mir.BlockID    // current block
	Stmt    int            // index of the next statement; len(Statements) means the terminator
	Cleanup bool           // executing cleanup blocks while unwinding

	layout *frameLayout
	role   frameRole
	catch  *catchHandler
}

// frameLayout places every local of a function inside one allocation.
type frameLayout struct {
	offsets []int
	size    int
	align   int
}

func (i *Interpreter) layoutOf(fn *mir.Function) (*frameLayout, error) {
	if l, ok := i.layouts[fn]; ok {
		return l, nil
	}

	l := &frameLayout{offsets: make([]int, len(fn.Locals)), align: 1}
	for n, decl := range fn.Locals {
		lay, err := i.types.Layout(decl.Type)
		if err != nil {
			return nil, fmt.Errorf("%s local _%d: %w", fn.Name, n, err)
		}
		l.size = alignUp(l.size, lay.Align)
		l.offsets[n] = l.size
		l.size += lay.Size
		l.align = max(l.align, lay.Align)
	}
	l.size = alignUp(l.size, l.align)

	i.layouts[fn] = l
	return l, nil
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// localAddr returns the address of local l in f.
func (f *Frame) localAddr(l mir.Local) uint64 {
	return f.Base + uint64(f.layout.offsets[l])
}

func (f *Frame) block() *mir.Block {
	return f.Fn.Blocks[f.Block]
}

// atTerminator reports whether every statement of the current block ran.
func (f *Frame) atTerminator() bool {
	return f.Stmt >= len(f.block().Statements)
}

func (f *Frame) terminator() *mir.Terminator {
	return &f.block().Terminator
}

func (f *Frame) jump(b mir.BlockID) {
	f.Block = b
	f.Stmt = 0
}

// pushFrame allocates storage for fn, binds args to locals 1..=ArgCount and
// makes the new frame current. Locals start zeroed.
func (i *Interpreter) pushFrame(fn *mir.Function, args []value.Value, role frameRole, catch *catchHandler) error {
	if i.stack.Full() {
		return faultf(StackOverflow, "call depth limit %d exceeded calling %s", i.maxDepth, fn.Name)
	}
	if len(args) != fn.ArgCount {
		return faultf(InvalidProgram, "%s takes %d arguments, got %d", fn.Name, fn.ArgCount, len(args))
	}

	l, err := i.layoutOf(fn)
	if err != nil {
		return err
	}
	id, err := i.mem.Allocate(memory.Stack, l.size, l.align, fn.Name)
	if err != nil {
		return err
	}
	a, _ := i.mem.Get(id)

	f := &Frame{Fn: fn, Alloc: id, Base: a.Base, layout: l, role: role, catch: catch}
	for n, v := range args {
		local := mir.Local(n + 1)
		if want := i.types.SizeOf(fn.Locals[local].Type); v.Len() != want {
			_ = i.mem.Deallocate(id)
			return faultf(InvalidProgram, "%s argument %d has %d bytes, want %d", fn.Name, n, v.Len(), want)
		}
		if err := i.mem.Write(id, l.offsets[local], v.Raw()); err != nil {
			_ = i.mem.Deallocate(id)
			return err
		}
	}

	if err := i.stack.Push(f); err != nil {
		_ = i.mem.Deallocate(id)
		return err
	}
	i.depth = max(i.depth, i.stack.Size())
	log.Debug("enter", "fn", fn.Name, "depth", i.stack.Size())
	return nil
}

// popFrame removes the current frame and frees its storage.
func (i *Interpreter) popFrame() (*Frame, bool) {
	f, ok := i.stack.Pop()
	if !ok {
		return nil, false
	}
	i.release(f)
	log.Debug("leave", "fn", f.Fn.Name, "depth", i.stack.Size())
	return f, true
}

func (i *Interpreter) release(f *Frame) {
	if err := i.mem.Deallocate(f.Alloc); err != nil {
		log.Error("failed to release frame", "fn", f.Fn.Name, "error", err)
	}
}

func (i *Interpreter) current() (*Frame, bool) {
	return i.stack.Peek()
}
