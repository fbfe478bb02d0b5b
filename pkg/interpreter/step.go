package interpreter

import (
	"context"

	"github.com/charmbracelet/log"

	"snapmir/pkg/mir"
	"snapmir/pkg/value"
)

// stepRunning executes the next statement or the terminator of the current
// frame. Nothing is written when an instruction faults.
func (i *Interpreter) stepRunning(ctx context.Context) {
	f, ok := i.current()
	if !ok {
		i.terminate(faultf(InvalidProgram, "running without a frame"))
		return
	}
	if err := i.checkBudget(ctx); err != nil {
		i.raise(err)
		return
	}

	blk := f.block()
	if f.Stmt < len(blk.Statements) {
		if err := i.execStatement(f, &blk.Statements[f.Stmt]); err != nil {
			i.raise(err)
			return
		}
		f.Stmt++
		return
	}
	if err := i.execTerminator(f, &blk.Terminator); err != nil {
		i.raise(err)
	}
}

func (i *Interpreter) checkBudget(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wrapFault(Cancelled, err)
	}
	if i.maxSteps > 0 && i.steps > i.maxSteps {
		f := wrapFault(Cancelled, ErrMaxStepsExceeded)
		f.Msg = "step limit exceeded"
		return f
	}
	return nil
}

func (i *Interpreter) execStatement(f *Frame, s *mir.Statement) error {
	switch s.Kind {
	case mir.StmtAssign:
		return i.assign(f, s.Place, s.Rvalue)
	case mir.StmtSetDiscriminant:
		ref, err := i.resolvePlace(f, s.Place)
		if err != nil {
			return err
		}
		return i.writeTag(ref, s.Variant)
	case mir.StmtStorageLive, mir.StmtStorageDead, mir.StmtNop:
		return nil
	}
	return faultf(UnsupportedConstruct, "statement kind %q", s.Kind)
}

// assign evaluates rv completely before touching the destination.
func (i *Interpreter) assign(f *Frame, dest mir.Place, rv *mir.Rvalue) error {
	if rv == nil {
		return faultf(InvalidProgram, "assignment without a value")
	}
	destTy, _, err := mir.PlaceType(i.types, f.Fn, dest)
	if err != nil {
		return wrapFault(InvalidProgram, err)
	}
	v, err := i.evalRvalue(f, rv, destTy)
	if err != nil {
		return err
	}
	ref, err := i.resolvePlace(f, dest)
	if err != nil {
		return err
	}
	return i.writePlace(ref, v)
}

func (i *Interpreter) execTerminator(f *Frame, t *mir.Terminator) error {
	switch t.Kind {
	case mir.TermGoto:
		f.jump(t.Target)
	case mir.TermSwitchInt:
		return i.switchInt(f, t)
	case mir.TermReturn:
		v, err := i.readLocal(f, 0)
		if err != nil {
			return err
		}
		i.ret = v
		i.foreign = false
		i.state = Returning
	case mir.TermCall:
		return i.call(f, t)
	case mir.TermDrop:
		return i.drop(f, t)
	case mir.TermAssert:
		v, _, err := i.evalOperand(f, &t.Cond)
		if err != nil {
			return err
		}
		b, err := v.Bool()
		if err != nil {
			return wrapFault(InvalidProgram, err)
		}
		if b != t.Expected {
			return faultf(assertKind(t.Msg), "%s", t.Msg)
		}
		f.jump(t.Target)
	case mir.TermResume:
		if !f.Cleanup || i.fault == nil {
			return faultf(InvalidProgram, "resume outside of a cleanup block in %s", f.Fn.Name)
		}
		i.state = Unwinding
	case mir.TermUnreachable:
		return faultf(Unreachable, "entered unreachable code")
	case mir.TermAbort:
		return faultf(Panic, "program aborted")
	default:
		return faultf(UnsupportedConstruct, "terminator kind %q", t.Kind)
	}
	return nil
}

// switchInt compares the discriminant, zero-extended to 128 bits, against
// every case in order.
func (i *Interpreter) switchInt(f *Frame, t *mir.Terminator) error {
	v, _, err := i.evalOperand(f, &t.Discr)
	if err != nil {
		return err
	}
	lo, hi := words(v.Raw())
	for _, c := range t.Cases {
		if c.Value == lo && c.High == hi {
			f.jump(c.Target)
			return nil
		}
	}
	f.jump(t.Otherwise)
	return nil
}

func words(b []byte) (lo, hi uint64) {
	for n := len(b) - 1; n >= 0; n-- {
		if n >= 8 {
			hi = hi<<8 | uint64(b[n])
		} else {
			lo = lo<<8 | uint64(b[n])
		}
	}
	return lo, hi
}

// stepReturning hands the return value to the caller and resumes it at the
// target of its call terminator.
func (i *Interpreter) stepReturning() {
	role := frameCall
	if !i.foreign {
		callee, ok := i.popFrame()
		if !ok {
			i.terminate(faultf(InvalidProgram, "return without a frame"))
			return
		}
		role = callee.role
	}
	i.foreign = false

	caller, ok := i.current()
	if !ok {
		i.result = i.ret
		log.Debug("run finished", "steps", i.steps)
		i.terminate(nil)
		return
	}
	i.state = Running

	t := caller.terminator()
	switch {
	case role == frameTry:
		i.ret = value.Unit
		i.resumeAfterCatch(caller, t, 0)
	case role == frameCatch:
		i.ret = value.Unit
		i.resumeAfterCatch(caller, t, 1)
	case t.Kind == mir.TermDrop:
		caller.jump(t.Target)
	case t.Kind == mir.TermCall:
		if t.Diverging {
			i.raise(faultf(UnsupportedConstruct, "diverging call returned in %s", caller.Fn.Name))
			return
		}
		if t.Dest.Local != mir.NoLocal {
			if err := i.writeDest(caller, t.Dest, i.ret); err != nil {
				i.raise(err)
				return
			}
		}
		i.ret = value.Unit
		caller.jump(t.Target)
	default:
		i.raise(faultf(InvalidProgram, "return into %s terminator", t.Kind))
	}
}

func (i *Interpreter) writeDest(f *Frame, dest mir.Place, v value.Value) error {
	ref, err := i.resolvePlace(f, dest)
	if err != nil {
		return err
	}
	return i.writePlace(ref, v)
}
