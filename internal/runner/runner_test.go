package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapmir/pkg/parser"
	"snapmir/pkg/source"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runFile(t *testing.T, opts *Options) (int, string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	opts.Stdout, opts.Stderr = &stdout, &stderr
	code, err := opts.Run(context.Background())
	return code, stdout.String(), stderr.String(), err
}

const printer = `
fn main() -> i32 {
    bb0: {
        snapmir::print_int(const 12_i32) -> bb1;
    }

    bb1: {
        _0 = const 3_i32;
        return;
    }
}

fn zero() -> i32 {
    bb0: {
        return;
    }
}

fn yes() -> bool {
    bb0: {
        _0 = const true;
        return;
    }
}

fn no() -> bool {
    bb0: {
        return;
    }
}
`

func TestExitStatus(t *testing.T) {
	path := write(t, "printer.mir", printer)

	tests := []struct {
		entry string
		want  int
	}{
		{entry: "main", want: 3},
		{entry: "zero", want: 0},
		{entry: "yes", want: 0},
		{entry: "no", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			code, _, _, err := runFile(t, &Options{SourceFile: path, Entry: tt.entry})
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestProgramOutput(t *testing.T) {
	path := write(t, "printer.mir", printer)
	_, stdout, _, err := runFile(t, &Options{SourceFile: path})
	require.NoError(t, err)
	assert.Equal(t, "12\n", stdout)
}

func TestFaultReport(t *testing.T) {
	path := write(t, "oob.mir", `
fn main() -> u8 {
    let _1: [u8; 2];
    let _2: usize;

    bb0: {
        _2 = const 7_usize;
        _0 = copy _1[_2];
        return;
    }
}
`)
	code, _, stderr, err := runFile(t, &Options{SourceFile: path, NoColor: true})
	require.NoError(t, err)
	assert.Equal(t, FaultStatus, code)
	assert.Contains(t, stderr, "error[OutOfBounds]:")
	assert.Contains(t, stderr, "bb0[1]")
}

func TestExitCall(t *testing.T) {
	path := write(t, "exit.mir", `
fn main() -> () {
    bb0: {
        exit(const 42_i32) -> unwind continue;
    }
}
`)
	code, _, _, err := runFile(t, &Options{SourceFile: path})
	require.NoError(t, err)
	assert.Equal(t, 42, code)
}

func TestSyntaxError(t *testing.T) {
	path := write(t, "bad.mir", "fn main() {\n    bb0: {\n        return\n    }\n}\n")
	code, _, stderr, err := runFile(t, &Options{SourceFile: path})
	require.ErrorIs(t, err, parser.ErrSyntax)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "=== Syntax Errors ===")
}

func TestDumpAndEmit(t *testing.T) {
	path := write(t, "printer.mir", printer)

	_, dump, _, err := runFile(t, &Options{SourceFile: path, Dump: true})
	require.NoError(t, err)
	assert.Contains(t, dump, "fn main() -> i32 {")

	_, emitted, _, err := runFile(t, &Options{SourceFile: path, Emit: "yaml"})
	require.NoError(t, err)

	unit := write(t, "printer.yaml", emitted)
	code, stdout, _, err := runFile(t, &Options{SourceFile: unit})
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "12\n", stdout)

	_, _, _, err = runFile(t, &Options{SourceFile: path, Emit: "json"})
	assert.ErrorIs(t, err, source.ErrUnknownFormat)
}

func TestConfig(t *testing.T) {
	path := write(t, "printer.mir", printer)
	cfg := write(t, "run.yaml", "entry: \"no\"\nmax_steps: 100\ntimeout: 5s\n")

	opts := &Options{SourceFile: path, ConfigFile: cfg}
	code, _, _, err := runFile(t, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Equal(t, 100, opts.MaxSteps)
	assert.Equal(t, 5*time.Second, opts.Timeout)

	opts = &Options{SourceFile: path, ConfigFile: cfg, Entry: "main"}
	code, _, _, err = runFile(t, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, code, "flags override the file")
}

func TestConfigUnknownField(t *testing.T) {
	cfg := write(t, "run.yaml", "entry: main\nmax_stack: 3\n")
	_, err := LoadConfig(cfg)
	assert.Error(t, err)
}

func TestStepLimit(t *testing.T) {
	path := write(t, "spin.mir", `
fn main() -> () {
    bb0: {
        goto -> bb0;
    }
}
`)
	code, _, stderr, err := runFile(t, &Options{SourceFile: path, MaxSteps: 20})
	require.NoError(t, err)
	assert.Equal(t, FaultStatus, code)
	assert.Contains(t, stderr, "step limit exceeded")
}
