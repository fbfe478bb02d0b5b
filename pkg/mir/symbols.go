package mir

import (
	"errors"
	"fmt"
	"sort"
)

var ErrInvalidProgram = errors.New("invalid program")

type SymbolKind int

const (
	SymbolFunc SymbolKind = iota
	SymbolExtern
)

// Symbol is one callable name of the program. Slot is the stable index used
// to encode function pointers.
type Symbol struct {
	Name   string
	Kind   SymbolKind
	Slot   int
	Func   *Function
	Extern *Extern
}

// SymbolTable is built once by Finalize and never mutated afterwards.
type SymbolTable struct {
	byName map[string]*Symbol
	slots  []*Symbol
	static map[string]int
}

// Lookup finds a symbol by its qualified name.
func (st *SymbolTable) Lookup(name string) (*Symbol, bool) {
	s, ok := st.byName[name]
	return s, ok
}

// Slot returns the symbol encoded by a function pointer slot.
func (st *SymbolTable) Slot(i int) (*Symbol, bool) {
	if i < 0 || i >= len(st.slots) {
		return nil, false
	}
	return st.slots[i], true
}

// Static returns the index of a static by name.
func (st *SymbolTable) Static(name string) (int, bool) {
	i, ok := st.static[name]
	return i, ok
}

// Names returns all callable names in sorted order.
func (st *SymbolTable) Names() []string {
	names := make([]string, 0, len(st.slots))
	for _, s := range st.slots {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// FunctionNames returns the names of interpreted functions in sorted order.
func (st *SymbolTable) FunctionNames() []string {
	var names []string
	for _, s := range st.slots {
		if s.Kind == SymbolFunc {
			names = append(names, s.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (st *SymbolTable) Len() int {
	return len(st.slots)
}

// Symbols returns the table built by Finalize, or nil before that.
func (p *Program) Symbols() *SymbolTable {
	return p.symbols
}

// Func looks up an interpreted function.
func (p *Program) Func(name string) (*Function, bool) {
	if p.symbols == nil {
		return nil, false
	}
	s, ok := p.symbols.Lookup(name)
	if !ok || s.Func == nil {
		return nil, false
	}
	return s.Func, true
}

// Finalize computes layouts, validates the program and builds the symbol
// table. Function constants naming unknown symbols become implicit externs.
func (p *Program) Finalize() error {
	if p.Types == nil {
		p.Types = NewTypeTable()
	}
	p.Types.Reindex()
	for _, t := range p.Types.Entries[1:] {
		if t.Kind == KindInvalid && t.Name != "" {
			return fmt.Errorf("%w: type %s is used but never declared", ErrInvalidProgram, t.Name)
		}
		seen := make(map[int64]string, len(t.Variants))
		for _, v := range t.Variants {
			if prev, dup := seen[v.Discr]; dup {
				return fmt.Errorf("%w: enum %s: %s and %s share discriminant %d", ErrInvalidProgram, t.Name, prev, v.Name, v.Discr)
			}
			seen[v.Discr] = v.Name
		}
	}
	if err := p.Types.ComputeLayouts(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProgram, err)
	}

	st := &SymbolTable{byName: make(map[string]*Symbol), static: make(map[string]int)}
	add := func(s *Symbol) error {
		if _, dup := st.byName[s.Name]; dup {
			return fmt.Errorf("%w: duplicate symbol %q", ErrInvalidProgram, s.Name)
		}
		s.Slot = len(st.slots)
		st.slots = append(st.slots, s)
		st.byName[s.Name] = s
		return nil
	}

	for _, fn := range p.Funcs {
		if err := add(&Symbol{Name: fn.Name, Kind: SymbolFunc, Func: fn}); err != nil {
			return err
		}
	}
	for _, ext := range p.Externs {
		if err := add(&Symbol{Name: ext.Name, Kind: SymbolExtern, Extern: ext}); err != nil {
			return err
		}
	}
	for i, s := range p.Statics {
		if _, dup := st.static[s.Name]; dup {
			return fmt.Errorf("%w: duplicate static %q", ErrInvalidProgram, s.Name)
		}
		st.static[s.Name] = i
	}

	for _, fn := range p.Funcs {
		if err := p.validate(fn); err != nil {
			return fmt.Errorf("%w: fn %s: %w", ErrInvalidProgram, fn.Name, err)
		}
		for _, name := range referencedSymbols(fn) {
			if _, ok := st.byName[name]; ok {
				continue
			}
			ext := &Extern{Name: name, Variadic: true}
			p.Externs = append(p.Externs, ext)
			_ = add(&Symbol{Name: name, Kind: SymbolExtern, Extern: ext})
		}
	}

	p.symbols = st
	return nil
}

func referencedSymbols(fn *Function) []string {
	var out []string
	visit := func(op *Operand) {
		if op.Kind == OperandConst && op.Const != nil && op.Const.Kind == ConstFn {
			out = append(out, op.Const.Symbol)
		}
	}
	for _, b := range fn.Blocks {
		for i := range b.Statements {
			if rv := b.Statements[i].Rvalue; rv != nil {
				for j := range rv.Operands {
					visit(&rv.Operands[j])
				}
			}
		}
		t := &b.Terminator
		if t.Kind == TermCall {
			visit(&t.Func)
			for j := range t.Args {
				visit(&t.Args[j])
			}
		}
	}
	return out
}

func (p *Program) validate(fn *Function) error {
	if len(fn.Locals) == 0 {
		return errors.New("missing return local _0")
	}
	if fn.ArgCount < 0 || fn.ArgCount >= len(fn.Locals) {
		return fmt.Errorf("argument count %d exceeds locals", fn.ArgCount)
	}
	if len(fn.Blocks) == 0 {
		return errors.New("function has no blocks")
	}
	for i, l := range fn.Locals {
		if p.Types.Get(l.Type) == nil {
			return fmt.Errorf("local _%d has no type", i)
		}
		if p.Types.IsUnsized(l.Type) {
			return fmt.Errorf("local _%d has unsized type %s", i, p.Types.String(l.Type))
		}
	}

	checkBlock := func(id BlockID) error {
		if id < 0 || int(id) >= len(fn.Blocks) {
			return fmt.Errorf("jump to missing block bb%d", id)
		}
		return nil
	}
	checkPlace := func(pl Place) error {
		if pl.Local == NoLocal && len(pl.Projection) == 0 {
			return nil
		}
		if pl.Local < 0 || int(pl.Local) >= len(fn.Locals) {
			return fmt.Errorf("unknown local _%d", pl.Local)
		}
		for _, proj := range pl.Projection {
			if proj.Kind == ProjIndex && (proj.Index < 0 || int(proj.Index) >= len(fn.Locals)) {
				return fmt.Errorf("unknown index local _%d", proj.Index)
			}
		}
		return nil
	}
	checkOperand := func(op *Operand) error {
		if op.Kind == OperandConst {
			if op.Const == nil {
				return errors.New("constant operand without value")
			}
			return nil
		}
		return checkPlace(op.Place)
	}

	for bi, b := range fn.Blocks {
		if b == nil {
			return fmt.Errorf("bb%d is missing", bi)
		}
		for si := range b.Statements {
			s := &b.Statements[si]
			if err := checkPlace(s.Place); err != nil {
				return fmt.Errorf("bb%d[%d]: %w", bi, si, err)
			}
			if s.Rvalue != nil {
				if err := checkPlace(s.Rvalue.Place); err != nil {
					return fmt.Errorf("bb%d[%d]: %w", bi, si, err)
				}
				for j := range s.Rvalue.Operands {
					if err := checkOperand(&s.Rvalue.Operands[j]); err != nil {
						return fmt.Errorf("bb%d[%d]: %w", bi, si, err)
					}
				}
			}
		}
		t := &b.Terminator
		for _, succ := range t.Successors() {
			if err := checkBlock(succ); err != nil {
				return fmt.Errorf("bb%d terminator: %w", bi, err)
			}
		}
		if t.Kind == TermCall {
			if err := checkPlace(t.Dest); err != nil {
				return fmt.Errorf("bb%d terminator: %w", bi, err)
			}
		}
	}

	return nil
}
