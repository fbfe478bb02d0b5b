// Package memory implements the interpreter's tracked address space.
//
// Every region of memory a program can touch is an Allocation with a unique
// virtual base address. Addresses are handed out by a bump allocator and are
// never reused, so a stale pointer always lands in a dead region instead of
// aliasing a newer allocation. Accesses are checked against the bounds and
// liveness of the allocation they resolve to. There is no ownership, aliasing
// or provenance tracking: any address inside a live allocation is accepted.
package memory

import (
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
)

var (
	ErrOutOfBounds  = errors.New("out of bounds access")
	ErrUseAfterFree = errors.New("use after free")
	ErrInvalidFree  = errors.New("invalid free")
	ErrOutOfMemory  = errors.New("memory budget exceeded")
)

type Kind int

const (
	Stack Kind = iota
	Heap
	Static
)

func (k Kind) String() string {
	switch k {
	case Stack:
		return "stack"
	case Heap:
		return "heap"
	case Static:
		return "static"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

const (
	// BaseAddress is the first address handed out. Everything below it,
	// including null, is never valid.
	BaseAddress uint64 = 0x1_0000
	// GuardGap separates consecutive allocations.
	GuardGap uint64 = 16
	// MinAlign is the minimum alignment of every base address.
	MinAlign uint64 = 16

	// FnPtrBase starts the range used to encode function pointers. It is
	// disjoint from anything the bump allocator can reach.
	FnPtrBase   uint64 = 0x7f00_0000_0000_0000
	FnPtrStride uint64 = 16
)

const (
	// MaxAllocation bounds a single region whether or not a budget is set.
	MaxAllocation = 1 << 30
	MaxAlign      = 1 << 29
)

// FnAddress encodes the function pointer for a symbol slot.
func FnAddress(slot int) uint64 {
	return FnPtrBase + uint64(slot)*FnPtrStride
}

// FnSlot decodes a function pointer produced by FnAddress.
func FnSlot(addr uint64) (int, bool) {
	if addr < FnPtrBase || (addr-FnPtrBase)%FnPtrStride != 0 {
		return 0, false
	}
	return int((addr - FnPtrBase) / FnPtrStride), true
}

type AllocID uint64

// Allocation is one tracked region.
type Allocation struct {
	ID    AllocID
	Kind  Kind
	Base  uint64
	Size  int
	Align int
	Label string

	live bool
	data []byte
}

func (a *Allocation) Live() bool {
	return a.live
}

// End is the first address past the allocation.
func (a *Allocation) End() uint64 {
	return a.Base + uint64(a.Size)
}

// Pointer addresses a byte inside an allocation.
type Pointer struct {
	Alloc  AllocID
	Offset int
}

// AccessError describes a failed memory operation. It wraps one of the
// package sentinels.
type AccessError struct {
	Op    string
	Addr  uint64
	Size  int
	Alloc *Allocation
	Err   error
}

func (e *AccessError) Error() string {
	msg := fmt.Sprintf("%s of %d bytes at 0x%x: %v", e.Op, e.Size, e.Addr, e.Err)
	if e.Addr == 0 && errors.Is(e.Err, ErrOutOfBounds) {
		msg += " (null pointer)"
	}
	if e.Alloc != nil {
		msg += fmt.Sprintf(" (%s allocation %q of %d bytes at 0x%x)", e.Alloc.Kind, e.Alloc.Label, e.Alloc.Size, e.Alloc.Base)
	}
	return msg
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// Stats is a snapshot of the manager's accounting.
type Stats struct {
	Allocations int
	Frees       int
	LiveBytes   int
	PeakBytes   int
	Live        [3]int // live allocations per Kind
}

type Option func(*Manager)

// WithMaxBytes caps the number of live bytes. Zero means unlimited.
func WithMaxBytes(n int) Option {
	return func(m *Manager) {
		m.maxBytes = n
	}
}

// Manager owns every allocation of one run. It is not safe for concurrent use.
type Manager struct {
	allocs   []*Allocation // ordered by ID and by Base
	nextBase uint64
	maxBytes int
	stats    Stats
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{nextBase: BaseAddress}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allocate creates a zero-filled region.
func (m *Manager) Allocate(kind Kind, size, align int, label string) (AllocID, error) {
	if size < 0 {
		return 0, &AccessError{Op: "allocate", Size: size, Err: ErrOutOfBounds}
	}
	if align <= 0 {
		align = 1
	}
	if align > MaxAlign || align&(align-1) != 0 {
		return 0, &AccessError{Op: "allocate", Size: size, Err: fmt.Errorf("%w: alignment %d", ErrOutOfMemory, align)}
	}
	if size > MaxAllocation || (m.maxBytes > 0 && m.stats.LiveBytes+size > m.maxBytes) {
		return 0, &AccessError{Op: "allocate", Size: size, Err: ErrOutOfMemory}
	}

	base := alignUp(m.nextBase, max(uint64(align), MinAlign))
	a := &Allocation{
		ID:    AllocID(len(m.allocs) + 1),
		Kind:  kind,
		Base:  base,
		Size:  size,
		Align: align,
		Label: label,
		live:  true,
		data:  make([]byte, size),
	}
	m.allocs = append(m.allocs, a)
	m.nextBase = base + uint64(size) + GuardGap

	m.stats.Allocations++
	m.stats.Live[kind]++
	m.stats.LiveBytes += size
	m.stats.PeakBytes = max(m.stats.PeakBytes, m.stats.LiveBytes)

	log.Debug("allocate", "id", a.ID, "kind", kind, "size", size, "base", fmt.Sprintf("0x%x", base), "label", label)
	return a.ID, nil
}

// Deallocate releases a region. Freeing a dead region is a use after free.
func (m *Manager) Deallocate(id AllocID) error {
	a, ok := m.Get(id)
	if !ok {
		return &AccessError{Op: "deallocate", Err: fmt.Errorf("%w: unknown allocation %d", ErrInvalidFree, id)}
	}
	if !a.live {
		return &AccessError{Op: "deallocate", Addr: a.Base, Size: a.Size, Alloc: a, Err: ErrUseAfterFree}
	}

	a.live = false
	a.data = nil
	m.stats.Frees++
	m.stats.Live[a.Kind]--
	m.stats.LiveBytes -= a.Size

	log.Debug("deallocate", "id", a.ID, "kind", a.Kind, "label", a.Label)
	return nil
}

// Free releases a heap allocation through a pointer to its first byte.
func (m *Manager) Free(addr uint64) error {
	a := m.find(addr)
	switch {
	case a == nil:
		return &AccessError{Op: "free", Addr: addr, Err: ErrInvalidFree}
	case !a.live && addr == a.Base:
		return &AccessError{Op: "free", Addr: addr, Alloc: a, Err: ErrUseAfterFree}
	case a.Kind != Heap || addr != a.Base || !a.live:
		return &AccessError{Op: "free", Addr: addr, Alloc: a, Err: ErrInvalidFree}
	}
	return m.Deallocate(a.ID)
}

// Realloc moves a heap allocation to a new region of newSize bytes,
// preserving the common prefix. It returns the new address.
func (m *Manager) Realloc(addr uint64, newSize, align int) (uint64, error) {
	a := m.find(addr)
	if a == nil || a.Kind != Heap || addr != a.Base {
		return 0, &AccessError{Op: "realloc", Addr: addr, Alloc: a, Err: ErrInvalidFree}
	}
	if !a.live {
		return 0, &AccessError{Op: "realloc", Addr: addr, Alloc: a, Err: ErrUseAfterFree}
	}

	id, err := m.Allocate(Heap, newSize, align, a.Label)
	if err != nil {
		return 0, err
	}
	next, _ := m.Get(id)
	copy(next.data, a.data)
	if err := m.Deallocate(a.ID); err != nil {
		return 0, err
	}
	return next.Base, nil
}

// Get returns the allocation with the given id, live or dead.
func (m *Manager) Get(id AllocID) (*Allocation, bool) {
	if id == 0 || int(id) > len(m.allocs) {
		return nil, false
	}
	return m.allocs[id-1], true
}

// Read copies n bytes at offset off of allocation id.
func (m *Manager) Read(id AllocID, off, n int) ([]byte, error) {
	a, err := m.check("read", id, off, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), a.data[off:off+n]...), nil
}

// Write stores data at offset off of allocation id. Nothing is written if
// any byte would fall outside the allocation.
func (m *Manager) Write(id AllocID, off int, data []byte) error {
	a, err := m.check("write", id, off, len(data))
	if err != nil {
		return err
	}
	copy(a.data[off:], data)
	return nil
}

func (m *Manager) check(op string, id AllocID, off, n int) (*Allocation, error) {
	a, ok := m.Get(id)
	if !ok {
		return nil, &AccessError{Op: op, Size: n, Err: fmt.Errorf("%w: unknown allocation %d", ErrOutOfBounds, id)}
	}
	addr := a.Base + uint64(off)
	if !a.live {
		return nil, &AccessError{Op: op, Addr: addr, Size: n, Alloc: a, Err: ErrUseAfterFree}
	}
	if off < 0 || n < 0 || off > a.Size || n > a.Size-off {
		return nil, &AccessError{Op: op, Addr: addr, Size: n, Alloc: a, Err: ErrOutOfBounds}
	}
	return a, nil
}

// find returns the allocation with the greatest base not above addr.
func (m *Manager) find(addr uint64) *Allocation {
	i := sort.Search(len(m.allocs), func(i int) bool {
		return m.allocs[i].Base > addr
	})
	if i == 0 {
		return nil
	}
	return m.allocs[i-1]
}

// Resolve maps an address to a pointer into the allocation that contains
// the n bytes starting there.
func (m *Manager) Resolve(addr uint64, n int) (Pointer, error) {
	a := m.find(addr)
	if a == nil || addr > a.End() {
		return Pointer{}, &AccessError{Op: "resolve", Addr: addr, Size: n, Err: ErrOutOfBounds}
	}
	if !a.live {
		return Pointer{}, &AccessError{Op: "resolve", Addr: addr, Size: n, Alloc: a, Err: ErrUseAfterFree}
	}
	off := int(addr - a.Base)
	if n < 0 || n > a.Size-off {
		return Pointer{}, &AccessError{Op: "resolve", Addr: addr, Size: n, Alloc: a, Err: ErrOutOfBounds}
	}
	return Pointer{Alloc: a.ID, Offset: off}, nil
}

// ReadAt reads n bytes starting at addr.
func (m *Manager) ReadAt(addr uint64, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	p, err := m.Resolve(addr, n)
	if err != nil {
		return nil, relabel(err, "read")
	}
	return m.Read(p.Alloc, p.Offset, n)
}

// WriteAt writes data starting at addr.
func (m *Manager) WriteAt(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	p, err := m.Resolve(addr, len(data))
	if err != nil {
		return relabel(err, "write")
	}
	return m.Write(p.Alloc, p.Offset, data)
}

// Address encodes a pointer as an address.
func (m *Manager) Address(p Pointer) (uint64, error) {
	a, ok := m.Get(p.Alloc)
	if !ok {
		return 0, &AccessError{Op: "address", Err: fmt.Errorf("%w: unknown allocation %d", ErrOutOfBounds, p.Alloc)}
	}
	return a.Base + uint64(p.Offset), nil
}

// Stats returns the accounting snapshot.
func (m *Manager) Stats() Stats {
	return m.stats
}

// Live returns the number of live allocations of any kind.
func (m *Manager) Live() int {
	return m.stats.Live[Stack] + m.stats.Live[Heap] + m.stats.Live[Static]
}

// LiveAllocations lists live allocations of the given kind in address order.
func (m *Manager) LiveAllocations(kind Kind) []*Allocation {
	var out []*Allocation
	for _, a := range m.allocs {
		if a.live && a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func relabel(err error, op string) error {
	var ae *AccessError
	if errors.As(err, &ae) {
		cp := *ae
		cp.Op = op
		return &cp
	}
	return err
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) / align * align
}
