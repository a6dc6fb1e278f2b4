package main

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/pflag"

	"github.com/knight1/candecode/internal/errors"
)

func runDump(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet(appName+" dump", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := parseFlags(fs, args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() != 1 {
		return errors.WrapInvalid(fmt.Errorf("%w: expected one CBOR file, got %d", errors.ErrInvalidConfig, fs.NArg()),
			"CLI", "runDump", "parse arguments")
	}

	in, err := openInput(fs.Arg(0))
	if err != nil {
		return err
	}
	defer in.Close()

	n, err := dumpStream(stdout, bufio.NewReader(in))
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("item %d: %w", n+1, err), "CLI", "runDump", "decode CBOR stream")
	}
	return nil
}

// dumpStream prints every CBOR item of r and returns how many it read.
func dumpStream(w io.Writer, r io.Reader) (int, error) {
	dec := cbor.NewDecoder(r)
	n := 0
	for {
		var item any
		if err := dec.Decode(&item); err != nil {
			if err == io.EOF {
				break
			}
			return n, err
		}
		n++

		fmt.Fprintln(w, rule)
		if n == 1 {
			fmt.Fprintln(w, "📄 Stream header")
		} else {
			fmt.Fprintf(w, "✅ Record %d\n", n-1)
		}
		fmt.Fprintln(w, "---------------------------------------------------")
		printItem(w, item, 0)
	}
	if n > 0 {
		fmt.Fprintln(w, rule)
	}
	fmt.Fprintf(w, "%d records\n", max(n-1, 0))
	return n, nil
}

// printItem recursively prints a decoded CBOR value with indentation.
func printItem(w io.Writer, item any, indent int) {
	prefix := strings.Repeat("  ", indent)

	switch v := item.(type) {
	case []byte:
		fmt.Fprintf(w, "%sType: Byte String (%d bytes)\n", prefix, len(v))
		fmt.Fprintf(w, "%sHex: %X\n", prefix, v)
		ascii := make([]byte, len(v))
		for i, b := range v {
			if b >= 32 && b < 127 {
				ascii[i] = b
			} else {
				ascii[i] = '.'
			}
		}
		fmt.Fprintf(w, "%sASCII: %s\n", prefix, string(ascii))

	case string:
		fmt.Fprintf(w, "%s%q\n", prefix, v)

	case []any:
		fmt.Fprintf(w, "%sType: Array (length %d)\n", prefix, len(v))
		for i, elem := range v {
			fmt.Fprintf(w, "%s  [%d]:\n", prefix, i)
			printItem(w, elem, indent+2)
		}

	case map[any]any:
		keys := make([]string, 0, len(v))
		byName := make(map[string]any, len(v))
		for k, val := range v {
			name := fmt.Sprint(k)
			keys = append(keys, name)
			byName[name] = val
		}
		slices.Sort(keys)
		for _, k := range keys {
			val := byName[k]
			if isScalar(val) {
				fmt.Fprintf(w, "%s%s: %s\n", prefix, k, scalar(val))
				continue
			}
			fmt.Fprintf(w, "%s%s:\n", prefix, k)
			printItem(w, val, indent+1)
		}

	case nil:
		fmt.Fprintf(w, "%snull\n", prefix)

	default:
		fmt.Fprintf(w, "%s%s\n", prefix, scalar(v))
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case []byte, []any, map[any]any:
		return false
	}
	return true
}

func scalar(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", v)
	case uint64:
		return fmt.Sprintf("%d (0x%X)", v, v)
	default:
		return fmt.Sprint(v)
	}
}
