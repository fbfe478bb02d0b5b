//go:build linux && cgo && ffi

package bridge

/*
#cgo LDFLAGS: -ldl
#cgo pkg-config: libffi
#include <ffi.h>
#include <dlfcn.h>
#include <stdlib.h>

static void* snapmir_dlopen(const char* path) {
	if (path == NULL) {
		return dlopen(NULL, RTLD_LAZY);
	}
	return dlopen(path, RTLD_LAZY | RTLD_LOCAL);
}

static const char* snapmir_dlerror(void) {
	return dlerror();
}

static void* snapmir_dlsym(void* h, const char* name) {
	dlerror();
	void* p = dlsym(h, name);
	if (dlerror() != NULL) {
		return NULL;
	}
	return p;
}

static int snapmir_dlclose(void* h) {
	return dlclose(h);
}

static int snapmir_call(void* fn, unsigned int nfixed, unsigned int nargs,
	ffi_type* rtype, ffi_type** atypes, void* rvalue, void** avalue) {
	ffi_cif cif;
	ffi_status st;
	if (nfixed < nargs) {
		st = ffi_prep_cif_var(&cif, FFI_DEFAULT_ABI, nfixed, nargs, rtype, atypes);
	} else {
		st = ffi_prep_cif(&cif, FFI_DEFAULT_ABI, nargs, rtype, atypes);
	}
	if (st != FFI_OK) {
		return (int)st;
	}
	ffi_call(&cif, (void (*)(void))fn, rvalue, avalue);
	return 0;
}
*/
import "C"

import (
	"context"
	"fmt"
	"unsafe"

	"snapmir/pkg/value"
)

// slotSize is the per-argument scratch space handed to libffi.
const slotSize = 16

type library struct {
	path   string
	handle unsafe.Pointer
}

// OpenLibrary dlopens a shared library. An empty path opens the running
// process so libc and friends resolve without an artifact.
func OpenLibrary(path string) (Provider, error) {
	var cpath *C.char
	if path != "" {
		cpath = C.CString(path)
		defer C.free(unsafe.Pointer(cpath))
	}

	h := C.snapmir_dlopen(cpath)
	if h == nil {
		return nil, fmt.Errorf("dlopen %q: %s", path, dlerr())
	}
	return &library{path: path, handle: h}, nil
}

func dlerr() string {
	if e := C.snapmir_dlerror(); e != nil {
		return C.GoString(e)
	}
	return "unknown dlerror"
}

func (l *library) Name() string {
	if l.path == "" {
		return "process"
	}
	return "native:" + l.path
}

func (l *library) Lookup(symbol string) (Entry, error) {
	cs := C.CString(symbol)
	defer C.free(unsafe.Pointer(cs))

	p := C.snapmir_dlsym(l.handle, cs)
	if p == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, symbol, l.Name())
	}
	return &nativeEntry{symbol: symbol, fn: p}, nil
}

func (l *library) Close(context.Context) error {
	if l.path == "" || l.handle == nil {
		return nil
	}
	if C.snapmir_dlclose(l.handle) != 0 {
		return fmt.Errorf("dlclose %q: %s", l.path, dlerr())
	}
	l.handle = nil
	return nil
}

type nativeEntry struct {
	symbol string
	fn     unsafe.Pointer
}

func (e *nativeEntry) Symbol() string {
	return e.symbol
}

func (e *nativeEntry) Invoke(_ context.Context, call *Call) (value.Value, error) {
	rk, rsize := classify(call.Types, call.Ret)
	if rk == scalarNone || rsize > 8 {
		return value.Unit, unsupported(call.Types, call.Ret)
	}

	n := len(call.Args)
	slots := C.malloc(C.size_t((n + 1) * slotSize))
	defer C.free(slots)

	var (
		atypes  **C.ffi_type
		avalues *unsafe.Pointer
	)
	if n > 0 {
		tmem := C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(uintptr(0))))
		defer C.free(tmem)
		vmem := C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(uintptr(0))))
		defer C.free(vmem)

		types := unsafe.Slice((**C.ffi_type)(tmem), n)
		vals := unsafe.Slice((*unsafe.Pointer)(vmem), n)
		for i, a := range call.Args {
			k, size := classify(call.Types, a.Type)
			if k == scalarNone || k == scalarVoid || size > 8 {
				return value.Unit, unsupported(call.Types, a.Type)
			}
			if t := call.Types.Get(a.Type); t.IsPointer() && a.Value.Uint64() != 0 {
				return value.Unit, fmt.Errorf("%w: %s argument %d points into interpreter memory", ErrUnsupportedType, e.symbol, i)
			}

			slot := unsafe.Add(slots, (i+1)*slotSize)
			buf := unsafe.Slice((*byte)(slot), slotSize)
			clear(buf)
			copy(buf, a.Value.Raw())
			types[i] = ffiType(k, size)
			vals[i] = slot
		}
		atypes = (**C.ffi_type)(tmem)
		avalues = (*unsafe.Pointer)(vmem)
	}

	fixed := n
	if call.Fixed >= 0 && call.Fixed < n {
		fixed = call.Fixed
	}

	ret := unsafe.Slice((*byte)(slots), slotSize)
	clear(ret)
	if st := C.snapmir_call(e.fn, C.uint(fixed), C.uint(n), ffiType(rk, rsize), atypes, slots, avalues); st != 0 {
		return value.Unit, &CallError{Symbol: e.symbol, Err: fmt.Errorf("ffi_prep_cif status %d", int(st))}
	}
	if rk == scalarVoid {
		return value.Unit, nil
	}
	// integer results narrower than a register come back widened to ffi_arg
	return value.FromBytes(ret[:rsize]), nil
}

func ffiType(k scalarKind, size int) *C.ffi_type {
	switch k {
	case scalarVoid:
		return &C.ffi_type_void
	case scalarFloat:
		if size == 4 {
			return &C.ffi_type_float
		}
		return &C.ffi_type_double
	case scalarSigned:
		switch size {
		case 1:
			return &C.ffi_type_sint8
		case 2:
			return &C.ffi_type_sint16
		case 4:
			return &C.ffi_type_sint32
		}
		return &C.ffi_type_sint64
	}
	switch size {
	case 1:
		return &C.ffi_type_uint8
	case 2:
		return &C.ffi_type_uint16
	case 4:
		return &C.ffi_type_uint32
	}
	return &C.ffi_type_uint64
}
