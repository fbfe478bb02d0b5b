package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"snapmir/pkg/bridge"
	"snapmir/pkg/color"
	"snapmir/pkg/interpreter"
	"snapmir/pkg/mir"
	"snapmir/pkg/parser"
	"snapmir/pkg/source"
	"snapmir/pkg/value"
)

// FaultStatus is the exit status of a run that ended with a fault.
const FaultStatus = 101

type Options struct {
	Help       bool          // Show help message
	Verbose    bool          // Enable verbose output
	NoColor    bool          // Disable colored output
	SourceFile string        // Path to the program
	Entry      string        // Function to run, main by default
	ConfigFile string        // Optional YAML configuration
	Libs       []string      // Native or wasm artifacts for foreign calls
	Overrides  []string      // Functions to run natively even though they have a body
	MaxDepth   int           // Call depth limit
	MaxSteps   int           // Step limit, 0 for none
	MaxMemory  int           // Live byte limit, 0 for none
	Timeout    time.Duration // Wall clock limit, 0 for none
	Emit       string        // Re-encode the program in this format instead of running it
	Dump       bool          // Print the program as text instead of running it

	Stdout io.Writer
	Stderr io.Writer
}

// Run loads the program and executes it. The returned status is what the
// process should exit with; the error is set only when the program could not
// be run at all.
func (opts *Options) Run(ctx context.Context) (int, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.ConfigFile != "" {
		cfg, err := LoadConfig(opts.ConfigFile)
		if err != nil {
			return 1, err
		}
		opts.merge(cfg)
	}
	if opts.Entry == "" {
		opts.Entry = "main"
	}

	log.Info("Processing file", "file", opts.SourceFile)
	prog, err := source.Load(opts.SourceFile)
	if err != nil {
		if errors.Is(err, parser.ErrSyntax) {
			fmt.Fprintln(opts.Stderr, color.BrightRedText("=== Syntax Errors ==="))
		}
		return 1, err
	}

	switch {
	case opts.Dump:
		return 0, prog.Dump(opts.Stdout)
	case opts.Emit != "":
		format, err := source.ParseFormat(opts.Emit)
		if err != nil {
			return 1, err
		}
		return 0, source.Encode(opts.Stdout, format, prog)
	}

	br, err := bridge.Open(ctx, opts.Libs)
	if err != nil {
		return 1, err
	}
	defer func() {
		if err := br.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("closing foreign call bridge", "error", err)
		}
	}()
	log.Debug("bridge ready", "providers", br.Providers())

	it, err := interpreter.NewInterpreter(prog,
		interpreter.WithWriter(opts.Stdout),
		interpreter.WithResolver(br),
		interpreter.WithMaxDepth(opts.MaxDepth),
		interpreter.WithMaxSteps(opts.MaxSteps),
		interpreter.WithMemoryLimit(opts.MaxMemory),
		interpreter.WithNativeOverrides(opts.Overrides...),
	)
	if err != nil {
		return 1, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if opts.Verbose {
		fmt.Fprintln(opts.Stderr, color.GreenText("=== Program Output ==="))
	}
	res, err := it.Run(ctx, opts.Entry)
	log.Info("run finished", "steps", res.Steps, "depth", res.MaxDepth, "calls", res.Calls,
		"peak_bytes", res.Stats.PeakBytes)

	if err != nil {
		var f *interpreter.Fault
		if !errors.As(err, &f) {
			return 1, err
		}
		f.Report(opts.Stderr)
		return FaultStatus, nil
	}
	if res.Exited {
		return res.ExitCode, nil
	}

	if !prog.Types.IsUnit(res.Type) {
		out := interpreter.Render(prog.Types, res.Type, res.Value)
		if opts.Verbose {
			fmt.Fprintln(opts.Stderr, color.GreenText("result:"), out)
		} else {
			log.Info("result", "value", out)
		}
	}
	return status(prog.Types, res.Type, res.Value), nil
}

// status maps the entry's return value onto a process exit status: a
// non-zero integer is returned as is and false becomes 1.
func status(tt *mir.TypeTable, ty mir.TypeID, v value.Value) int {
	t := tt.Get(ty)
	if t == nil {
		return 0
	}
	switch t.Kind {
	case mir.KindBool:
		if b, err := v.Bool(); err == nil && !b {
			return 1
		}
	case mir.KindInt:
		return int(v.Int64())
	case mir.KindUint:
		return int(v.Uint64())
	}
	return 0
}
