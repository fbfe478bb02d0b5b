package source_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapmir/pkg/mir"
	"snapmir/pkg/source"
)

const program = `
struct Pair { a: i32, b: i32 }
enum Choice { No, Yes(u8) = 3 }
static mut HITS: u64 = zeroed;
extern "libm" fn fabs(f64) -> f64;

fn pick(_1: Choice) -> u8 {
    let _2: isize;

    bb0: {
        _2 = discriminant(_1);
        switchInt(move _2) -> [3: bb1, otherwise: bb2];
    }

    bb1: {
        _0 = copy ((_1 as Yes).0: u8);
        return;
    }

    bb2: {
        _0 = const 0xff_u8;
        return;
    }
}

fn main() -> i32 {
    let _1: Pair;
    let _2: f64;

    bb0: {
        _1 = Pair { a: const -4, b: const 9 };
        _2 = fabs(const -2.5_f64) -> [return: bb1, unwind: bb2];
    }

    bb1: {
        _0 = Add(copy _1.a, copy _1.b);
        return;
    }

    bb2 (cleanup): {
        resume;
    }
}
`

func dump(t *testing.T, prog *mir.Program) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, prog.Dump(&buf))
	return buf.String()
}

func TestLoadText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairs.mir")
	require.NoError(t, os.WriteFile(path, []byte(program), 0o644))

	prog, err := source.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "pairs", prog.Name)
	_, ok := prog.Func("pick")
	assert.True(t, ok)
	assert.NotNil(t, prog.Symbols())
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []source.Format{source.CBOR, source.YAML, source.Text} {
		t.Run(string(format), func(t *testing.T) {
			prog, err := source.Decode(bytes.NewReader([]byte(program)), source.Text, "pairs")
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, source.Encode(&buf, format, prog))

			again, err := source.Decode(&buf, format, "ignored")
			require.NoError(t, err)
			if format != source.Text {
				assert.Equal(t, "pairs", again.Name, "an encoded unit keeps its name")
			}
			assert.Equal(t, dump(t, prog), dump(t, again))

			fn, ok := again.Func("main")
			require.True(t, ok)
			assert.Equal(t, mir.UnwindCleanup, fn.Blocks[0].Terminator.Unwind.Kind)
		})
	}
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	prog, err := source.Decode(bytes.NewReader([]byte(program)), source.Text, "pairs")
	require.NoError(t, err)

	for _, name := range []string{"unit.mirb", "unit.cbor", "unit.yaml", "unit.yml"} {
		format, err := source.FormatOf(name)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, source.Encode(&buf, format, prog))
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

		loaded, err := source.Load(path)
		require.NoError(t, err, name)
		assert.Len(t, loaded.Funcs, 2)
	}
}

func TestFormats(t *testing.T) {
	_, err := source.FormatOf("prog.rs")
	assert.ErrorIs(t, err, source.ErrUnknownFormat)

	f, err := source.ParseFormat("CBOR")
	require.NoError(t, err)
	assert.Equal(t, source.CBOR, f)

	_, err = source.ParseFormat("json")
	assert.ErrorIs(t, err, source.ErrUnknownFormat)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := source.Load(filepath.Join(dir, "missing.mir"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: x\nbogus: 1\n"), 0o644))
	_, err = source.Load(bad)
	assert.Error(t, err, "unknown fields are rejected")
}
