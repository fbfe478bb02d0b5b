package interpreter

import (
	"errors"

	"github.com/charmbracelet/log"

	"snapmir/pkg/bridge"
	"snapmir/pkg/mir"
	"snapmir/pkg/value"
)

// raise turns err into the fault being unwound. The faulting frame's own
// unwind action is honoured first; a second fault while cleanup code runs
// ends the run at once.
func (i *Interpreter) raise(err error) {
	var exit *bridge.ExitError
	if errors.As(err, &exit) {
		i.exit(exit.Code)
		return
	}

	f := classify(err)
	if len(f.Trace) == 0 {
		f.Trace = i.trace()
	}

	if i.fault != nil {
		log.Error("fault while unwinding", "first", i.fault.Msg, "second", f.Msg)
		i.fault = nil
		i.terminate(f)
		return
	}

	log.Debug("unwinding", "kind", f.Kind, "msg", f.Msg)
	i.fault = f
	i.state = Unwinding
	if f.Kind == Cancelled {
		return
	}

	fr, ok := i.current()
	if !ok {
		i.fault = nil
		i.terminate(f)
		return
	}
	if fr.atTerminator() {
		i.applyUnwind(fr, fr.terminator().Unwind)
	}
}

// applyUnwind runs the unwind action of f's current terminator.
func (i *Interpreter) applyUnwind(f *Frame, action mir.UnwindAction) {
	switch action.Kind {
	case mir.UnwindCleanup:
		f.jump(action.Block)
		f.Cleanup = true
		i.state = Running
	case mir.UnwindTerminate, mir.UnwindUnreachable:
		flt := i.fault
		i.fault = nil
		i.terminate(flt)
	}
}

// stepUnwinding pops one frame and applies the caller's unwind action. A
// catch_unwind frame stops the fault unless the run was cancelled.
func (i *Interpreter) stepUnwinding() {
	f := i.fault
	if f == nil {
		i.terminate(faultf(InvalidProgram, "unwinding without a fault"))
		return
	}

	callee, ok := i.popFrame()
	if !ok {
		i.fault = nil
		i.terminate(f)
		return
	}
	if callee.role == frameTry && f.Kind != Cancelled {
		i.recover(callee)
		return
	}

	caller, ok := i.current()
	if !ok {
		i.fault = nil
		i.terminate(f)
		return
	}
	if f.Kind == Cancelled {
		return
	}
	i.applyUnwind(caller, caller.terminator().Unwind)
}

// recover clears the fault caught by a try frame and runs the handler, if
// there is one.
func (i *Interpreter) recover(try *Frame) {
	log.Debug("fault caught", "kind", i.fault.Kind, "in", try.Fn.Name)
	i.fault = nil
	i.state = Running

	caller, ok := i.current()
	if !ok {
		i.terminate(faultf(InvalidProgram, "catch_unwind frame without a caller"))
		return
	}
	h := try.catch
	if h == nil || h.symbol == "" {
		i.resumeAfterCatch(caller, caller.terminator(), 1)
		return
	}

	fn, ok := i.prog.Func(h.symbol)
	if !ok {
		i.raise(faultf(UnsupportedConstruct, "catch handler %s has no interpreted body", h.symbol))
		return
	}
	payload := value.FromAddress(0)
	if err := i.pushFrame(fn, fitArgs(fn, h.data, payload), frameCatch, nil); err != nil {
		i.raise(err)
	}
}

// trace describes every frame, innermost first.
func (i *Interpreter) trace() []TraceEntry {
	frames := i.stack.Array()
	out := make([]TraceEntry, 0, len(frames))
	for n := len(frames) - 1; n >= 0; n-- {
		f := frames[n]
		e := TraceEntry{Func: f.Fn.Name, Block: f.Block, Statement: -1}
		blk := f.block()
		if f.Stmt < len(blk.Statements) {
			e.Statement = f.Stmt
			e.Text = i.prog.FormatStatement(f.Fn, &blk.Statements[f.Stmt])
		} else {
			e.Text = i.prog.FormatTerminator(f.Fn, &blk.Terminator)
		}
		out = append(out, e)
	}
	return out
}
