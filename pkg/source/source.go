// Package source loads programs from disk and writes them back out. Text
// files go through the parser; compiled units are CBOR or YAML encodings of
// mir.Program.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"snapmir/pkg/mir"
	"snapmir/pkg/parser"
)

type Format string

const (
	Text Format = "mir"
	CBOR Format = "mirb"
	YAML Format = "yaml"
)

var ErrUnknownFormat = errors.New("unknown program format")

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mir":
		return Text, nil
	case ".mirb", ".cbor":
		return CBOR, nil
	case ".yaml", ".yml":
		return YAML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// ParseFormat accepts the names used on the command line.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "mir", "text":
		return Text, nil
	case "mirb", "cbor":
		return CBOR, nil
	case "yaml", "yml":
		return YAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		IndefLength:      cbor.IndefLengthForbidden,
		MaxArrayElements: 1 << 24,
		MaxMapPairs:      1 << 24,
		MaxNestedLevels:  math.MaxInt16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Load reads and finalizes the program at path. The program is named after
// the file.
func Load(path string) (*mir.Program, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prog, err := Decode(file, format, name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	log.Debug("program loaded", "path", path, "format", format, "functions", len(prog.Funcs))
	return prog, nil
}

// Decode reads one program in the given format and finalizes it.
func Decode(r io.Reader, format Format, name string) (*mir.Program, error) {
	var prog *mir.Program
	switch format {
	case Text:
		src, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if prog, err = parser.ParseProgram(string(src)); err != nil {
			return nil, err
		}
	case CBOR:
		prog = &mir.Program{}
		if err := decMode.NewDecoder(r).Decode(prog); err != nil {
			return nil, fmt.Errorf("decode cbor: %w", err)
		}
	case YAML:
		prog = &mir.Program{}
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(prog); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if prog.Name == "" {
		prog.Name = name
	}
	if prog.Symbols() == nil {
		if err := prog.Finalize(); err != nil {
			return nil, err
		}
	}
	return prog, nil
}

// Encode writes prog in the given format.
func Encode(w io.Writer, format Format, prog *mir.Program) error {
	switch format {
	case Text:
		return prog.Dump(w)
	case CBOR:
		if err := encMode.NewEncoder(w).Encode(prog); err != nil {
			return fmt.Errorf("encode cbor: %w", err)
		}
		return nil
	case YAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(prog); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err := w.Write(buf.Bytes())
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}
