package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"snapmir/pkg/value"
)

// WasmModule exposes the exported functions of one WebAssembly artifact.
type WasmModule struct {
	name    string
	runtime wazero.Runtime
	module  api.Module
}

// OpenWasm compiles and instantiates the module at path.
func OpenWasm(ctx context.Context, path string) (*WasmModule, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wasm artifact: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return LoadWasm(ctx, name, bin)
}

// LoadWasm instantiates a module from its binary form.
func LoadWasm(ctx context.Context, name string, bin []byte) (*WasmModule, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("compile wasm module %s: %w", name, err)
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate wasm module %s: %w", name, err)
	}

	return &WasmModule{name: name, runtime: rt, module: mod}, nil
}

func (w *WasmModule) Name() string {
	return "wasm:" + w.name
}

func (w *WasmModule) Lookup(symbol string) (Entry, error) {
	fn := w.module.ExportedFunction(symbol)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, symbol, w.Name())
	}
	def := fn.Definition()
	if len(def.ResultTypes()) > 1 {
		return nil, fmt.Errorf("%w: %s returns %d values", ErrUnsupportedType, symbol, len(def.ResultTypes()))
	}
	return &wasmEntry{symbol: symbol, fn: fn, params: def.ParamTypes(), results: def.ResultTypes()}, nil
}

func (w *WasmModule) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

type wasmEntry struct {
	symbol  string
	fn      api.Function
	params  []api.ValueType
	results []api.ValueType
}

func (e *wasmEntry) Symbol() string {
	return e.symbol
}

func (e *wasmEntry) Invoke(ctx context.Context, call *Call) (value.Value, error) {
	if len(call.Args) != len(e.params) {
		return value.Unit, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrUnsupportedType, e.symbol, len(e.params), len(call.Args))
	}

	stack := make([]uint64, len(e.params))
	for i, a := range call.Args {
		k, _ := classify(call.Types, a.Type)
		if k == scalarNone || k == scalarVoid {
			return value.Unit, unsupported(call.Types, a.Type)
		}
		raw, err := encodeWasm(e.params[i], k, a.Value)
		if err != nil {
			return value.Unit, fmt.Errorf("%s argument %d: %w", e.symbol, i, err)
		}
		stack[i] = raw
	}

	results, err := e.fn.Call(ctx, stack...)
	if err != nil {
		return value.Unit, &CallError{Symbol: e.symbol, Err: err}
	}

	rk, rsize := classify(call.Types, call.Ret)
	if len(e.results) == 0 || rk == scalarVoid {
		return value.Unit, nil
	}
	if rk == scalarNone {
		return value.Unit, unsupported(call.Types, call.Ret)
	}
	return decodeWasm(e.results[0], rk, rsize, results[0])
}

func encodeWasm(vt api.ValueType, k scalarKind, v value.Value) (uint64, error) {
	switch vt {
	case api.ValueTypeI32:
		if k == scalarFloat {
			return 0, fmt.Errorf("%w: float passed as i32", ErrUnsupportedType)
		}
		return api.EncodeI32(int32(v.Int64())), nil
	case api.ValueTypeI64:
		if k == scalarFloat {
			return 0, fmt.Errorf("%w: float passed as i64", ErrUnsupportedType)
		}
		if k == scalarSigned {
			return api.EncodeI64(v.Int64()), nil
		}
		return v.Uint64(), nil
	case api.ValueTypeF32:
		f, err := v.Float32()
		if err != nil {
			return 0, err
		}
		return api.EncodeF32(f), nil
	case api.ValueTypeF64:
		f, err := v.Float64()
		if err != nil {
			return 0, err
		}
		return api.EncodeF64(f), nil
	}
	return 0, fmt.Errorf("%w: wasm value type %s", ErrUnsupportedType, api.ValueTypeName(vt))
}

func decodeWasm(vt api.ValueType, k scalarKind, size int, raw uint64) (value.Value, error) {
	switch vt {
	case api.ValueTypeI32:
		if k == scalarSigned {
			return value.FromInt(int64(api.DecodeI32(raw)), size), nil
		}
		return value.FromUint(uint64(api.DecodeU32(raw)), size), nil
	case api.ValueTypeI64:
		if k == scalarSigned {
			return value.FromInt(int64(raw), size), nil
		}
		return value.FromUint(raw, size), nil
	case api.ValueTypeF32:
		if size != 4 {
			return value.FromFloat64(float64(api.DecodeF32(raw))), nil
		}
		return value.FromFloat32(api.DecodeF32(raw)), nil
	case api.ValueTypeF64:
		if size == 4 {
			return value.FromFloat32(float32(api.DecodeF64(raw))), nil
		}
		return value.FromFloat64(api.DecodeF64(raw)), nil
	}
	return value.Unit, fmt.Errorf("%w: wasm value type %s", ErrUnsupportedType, api.ValueTypeName(vt))
}
