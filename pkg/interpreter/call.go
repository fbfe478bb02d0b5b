package interpreter

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"snapmir/pkg/bridge"
	"snapmir/pkg/memory"
	"snapmir/pkg/mir"
	"snapmir/pkg/value"
)

var catchUnwindNames = map[string]bool{
	"std::intrinsics::catch_unwind":  true,
	"core::intrinsics::catch_unwind": true,
	"catch_unwind":                   true,
}

// pendingCall is a fully evaluated call waiting for the Calling step.
type pendingCall struct {
	symbol string
	fn     *mir.Function // interpreted target
	entry  bridge.Entry  // foreign target
	args   []value.Value
	call   *bridge.Call
	role   frameRole
	catch  *catchHandler
}

// call evaluates the callee and every argument, then hands over to the
// Calling state.
func (i *Interpreter) call(f *Frame, t *mir.Terminator) error {
	name, err := i.calleeName(f, &t.Func)
	if err != nil {
		return err
	}

	args := make([]value.Value, len(t.Args))
	types := make([]mir.TypeID, len(t.Args))
	for n := range t.Args {
		v, ty, err := i.evalOperand(f, &t.Args[n])
		if err != nil {
			return err
		}
		args[n], types[n] = v, ty
	}

	if catchUnwindNames[name] {
		if _, defined := i.prog.Func(name); !defined {
			return i.catchUnwind(t, args)
		}
	}

	sym, _ := i.syms.Lookup(name)
	if sym != nil && sym.Func != nil && !i.overrides[name] {
		i.pending = &pendingCall{symbol: name, fn: sym.Func, args: args}
		i.state = Calling
		return nil
	}

	entry, err := i.resolve(name)
	if err != nil {
		if sym != nil && sym.Func != nil && errors.Is(err, ErrUnresolvedSymbol) {
			log.Warn("no native implementation for override, interpreting", "symbol", name)
			i.pending = &pendingCall{symbol: name, fn: sym.Func, args: args}
			i.state = Calling
			return nil
		}
		return err
	}

	c := &bridge.Call{Symbol: name, Host: i, Types: i.types, Fixed: -1, Ret: i.types.Unit()}
	for n := range args {
		c.Args = append(c.Args, bridge.Arg{Type: types[n], Value: args[n]})
	}
	if t.Dest.Local != mir.NoLocal {
		if ty, _, err := mir.PlaceType(i.types, f.Fn, t.Dest); err == nil {
			c.Ret = ty
		}
	}
	if sym != nil && sym.Extern != nil {
		ext := sym.Extern
		if ext.Ret != mir.NoType {
			c.Ret = ext.Ret
		}
		if ext.Variadic && len(ext.Params) > 0 {
			c.Fixed = len(ext.Params)
		}
	}

	i.pending = &pendingCall{symbol: name, entry: entry, call: c}
	i.state = Calling
	return nil
}

// calleeName resolves the called function: either a function constant or a
// function pointer read from a place.
func (i *Interpreter) calleeName(f *Frame, op *mir.Operand) (string, error) {
	if op.Kind == mir.OperandConst && op.Const != nil && op.Const.Kind == mir.ConstFn {
		return op.Const.Symbol, nil
	}
	v, _, err := i.evalOperand(f, op)
	if err != nil {
		return "", err
	}
	return i.fnPointerName(v)
}

func (i *Interpreter) fnPointerName(v value.Value) (string, error) {
	addr, err := v.Address()
	if err != nil {
		return "", wrapFault(InvalidProgram, err)
	}
	slot, ok := memory.FnSlot(addr)
	if !ok {
		return "", faultf(OutOfBounds, "call through 0x%x, which is not a function pointer", addr)
	}
	sym, ok := i.syms.Slot(slot)
	if !ok {
		return "", faultf(OutOfBounds, "call through dangling function pointer 0x%x", addr)
	}
	return sym.Name, nil
}

// resolve asks the bridge for a symbol. A miss becomes UnresolvedSymbol with
// a hint when a known name is close.
func (i *Interpreter) resolve(name string) (bridge.Entry, error) {
	entry, err := i.resolver.Resolve(name)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, bridge.ErrNotFound) {
		return nil, classify(err)
	}

	f := &Fault{Kind: UnresolvedSymbol, Msg: fmt.Sprintf("no implementation found for %s", name), Err: err}
	candidates := i.syms.Names()
	if in, ok := i.resolver.(interface{ Names() []string }); ok {
		candidates = append(candidates, in.Names()...)
	}
	if s, ok := bridge.Suggest(name, candidates); ok {
		f.Msg += fmt.Sprintf(" (did you mean %s?)", s)
	}
	return nil, f
}

// drop runs the drop glue of the place's type, if it has any.
func (i *Interpreter) drop(f *Frame, t *mir.Terminator) error {
	ty, _, err := mir.PlaceType(i.types, f.Fn, t.Place)
	if err != nil {
		return wrapFault(InvalidProgram, err)
	}
	glue := ""
	if typ := i.types.Get(ty); typ != nil {
		glue = typ.Drop
	}
	if glue == "" {
		f.jump(t.Target)
		return nil
	}

	ref, err := i.resolvePlace(f, t.Place)
	if err != nil {
		return err
	}
	arg := value.FromAddress(ref.addr)

	if fn, ok := i.prog.Func(glue); ok && !i.overrides[glue] {
		i.pending = &pendingCall{symbol: glue, fn: fn, args: []value.Value{arg}}
		i.state = Calling
		return nil
	}
	entry, err := i.resolve(glue)
	if err != nil {
		return err
	}
	c := &bridge.Call{
		Symbol: glue,
		Host:   i,
		Types:  i.types,
		Args:   []bridge.Arg{{Type: i.types.Ptr(ty, true), Value: arg}},
		Ret:    i.types.Unit(),
		Fixed:  -1,
	}
	i.pending = &pendingCall{symbol: glue, entry: entry, call: c}
	i.state = Calling
	return nil
}

// catchUnwind implements catch_unwind(try_fn, data, catch_fn): try_fn(data)
// runs in a frame that stops unwinding; a caught fault runs catch_fn(data,
// payload) and the call yields 1, a normal return yields 0.
func (i *Interpreter) catchUnwind(t *mir.Terminator, args []value.Value) error {
	if len(args) != 3 {
		return faultf(InvalidProgram, "catch_unwind takes 3 arguments, got %d", len(args))
	}
	tryName, err := i.fnArgName(&t.Args[0], args[0])
	if err != nil {
		return err
	}
	tryFn, ok := i.prog.Func(tryName)
	if !ok {
		return faultf(UnsupportedConstruct, "catch_unwind of foreign function %s", tryName)
	}

	h := &catchHandler{data: args[1]}
	if addr, err := args[2].Address(); err != nil || addr != 0 {
		if h.symbol, err = i.fnArgName(&t.Args[2], args[2]); err != nil {
			return err
		}
	}

	i.pending = &pendingCall{
		symbol: tryName,
		fn:     tryFn,
		args:   fitArgs(tryFn, args[1]),
		role:   frameTry,
		catch:  h,
	}
	i.state = Calling
	return nil
}

// fnArgName names the function an argument refers to: a function item
// constant or a function pointer value.
func (i *Interpreter) fnArgName(op *mir.Operand, v value.Value) (string, error) {
	if op.Kind == mir.OperandConst && op.Const != nil && op.Const.Kind == mir.ConstFn {
		return op.Const.Symbol, nil
	}
	return i.fnPointerName(v)
}

// fitArgs passes the leading values a function actually declares.
func fitArgs(fn *mir.Function, vals ...value.Value) []value.Value {
	if len(vals) > fn.ArgCount {
		vals = vals[:fn.ArgCount]
	}
	return vals
}

// resumeAfterCatch writes the catch_unwind result and continues the caller.
func (i *Interpreter) resumeAfterCatch(caller *Frame, t *mir.Terminator, caught int64) {
	if t.Dest.Local != mir.NoLocal {
		ty, _, err := mir.PlaceType(i.types, caller.Fn, t.Dest)
		if err != nil {
			i.raise(wrapFault(InvalidProgram, err))
			return
		}
		if err := i.writeDest(caller, t.Dest, value.FromInt(caught, i.types.SizeOf(ty))); err != nil {
			i.raise(err)
			return
		}
	}
	caller.jump(t.Target)
}

// stepCalling performs the call prepared by the previous step.
func (i *Interpreter) stepCalling(ctx context.Context) {
	p := i.pending
	i.pending = nil
	if p == nil {
		i.terminate(faultf(InvalidProgram, "calling without a pending call"))
		return
	}

	if p.fn != nil {
		if err := i.pushFrame(p.fn, p.args, p.role, p.catch); err != nil {
			i.state = Running
			i.raise(err)
			return
		}
		i.state = Running
		return
	}

	i.calls++
	log.Debug("foreign call", "symbol", p.symbol, "args", len(p.call.Args))
	v, err := p.entry.Invoke(ctx, p.call)
	i.state = Running
	if err != nil {
		var exit *bridge.ExitError
		if errors.As(err, &exit) {
			i.exit(exit.Code)
			return
		}
		i.raise(err)
		return
	}
	i.ret = v
	i.foreign = true
	i.state = Returning
}

// exit ends the run successfully on behalf of the program. Cleanup blocks
// do not run.
func (i *Interpreter) exit(code int) {
	log.Debug("program exited", "code", code)
	i.exited = true
	i.code = code
	i.result = value.Unit
	i.fault = nil
	i.terminate(nil)
}
