// Command bof loads and executes a single Beacon Object File, printing
// whatever the entrypoint emits through BeaconPrintf/BeaconOutput.
package main

import (
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/xyproto/bof"
)

func main() {
	var bofPath = flag.String("bof-path", "", "path to the COFF/BOF object file (required)")
	var entrypoint = flag.String("entrypoint", "go", "entrypoint symbol name")
	var verbosity = flag.Int("verbosity", 1, "log verbosity 0-4 (0=error, 1=warn, 2=info, 3-4=debug)")
	flag.Parse()

	if *bofPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --bof-path is required")
		os.Exit(1)
	}

	logger := newLogger(*verbosity)

	buf, err := os.ReadFile(*bofPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: reading %s: %v\n", *bofPath, err)
		os.Exit(1)
	}

	packed, err := packArgs(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *verbosity >= 2 {
		logger.Info("packed arguments", "hex", strings.ToUpper(hex.EncodeToString(packed)))
	}

	executor := bof.NewExecutor(logger)
	output, err := executor.Run(buf, *entrypoint, packed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(output)
}

func newLogger(verbosity int) *slog.Logger {
	var level slog.Level
	switch {
	case verbosity <= 0:
		level = slog.LevelError
	case verbosity == 1:
		level = slog.LevelWarn
	case verbosity == 2:
		level = slog.LevelInfo
	default:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// packArgs parses trailing "<type>:<value>" tokens (str, wstr, int, short,
// bin) into a Packed Argument Blob, in the order given.
func packArgs(tokens []string) ([]byte, error) {
	p := bof.NewPacker()
	for _, tok := range tokens {
		typ, val, ok := strings.Cut(tok, ":")
		if !ok {
			return nil, argFormatErr("malformed argument token %q, want <type>:<value>", tok)
		}
		switch typ {
		case "str":
			p.AddStr(val)
		case "wstr":
			p.AddWStr(val)
		case "int":
			n, err := strconv.ParseInt(val, 10, 32)
			if err != nil {
				return nil, argFormatErr("argument %q: %v", tok, err)
			}
			p.AddInt(int32(n))
		case "short":
			n, err := strconv.ParseInt(val, 10, 16)
			if err != nil {
				return nil, argFormatErr("argument %q: %v", tok, err)
			}
			p.AddShort(int16(n))
		case "bin":
			b, err := base64.StdEncoding.DecodeString(val)
			if err != nil {
				return nil, argFormatErr("argument %q: %v", tok, err)
			}
			p.AddBin(b)
		default:
			return nil, argFormatErr("unknown argument type %q in %q", typ, tok)
		}
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	return p.Emit(), nil
}

// argFormatErr reports a malformed command-line argument token as the
// loader's own ArgumentFormat kind, rather than a bare fmt.Errorf, so
// callers distinguishing loader failures by Kind see this one too.
func argFormatErr(format string, args ...any) error {
	return &bof.Error{Kind: bof.KindArgumentFormat, Message: fmt.Sprintf(format, args...)}
}
