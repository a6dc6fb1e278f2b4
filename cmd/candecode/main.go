// Command candecode decodes CAN traffic against a DBC signal database.
//
// Live mode reads a SocketCAN interface until interrupted. Batch mode
// decodes a recorded candump or SavvyCAN CSV log. Both write the same
// tidy or flat records to the console, a CSV file, and a CBOR record
// stream. Dump pretty-prints a CBOR record stream.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/knight1/candecode/internal/config"
)

const appName = "candecode"

func main() {
	ctx, stop := interruptContext(context.Background())
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// interruptContext is cancelled by the first SIGINT or SIGTERM. Signal
// delivery is then restored to the default, so a second Ctrl-C kills a
// shutdown that hangs.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "live":
		return runLive(ctx, args[1:], stdout, stderr)
	case "batch":
		return runBatch(ctx, args[1:], stdout, stderr)
	case "dump":
		return runDump(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `%s - CAN bus decoder

Usage:
  %[1]s live  [flags]              decode frames from a CAN interface
  %[1]s batch [flags] <log|->      decode a candump or SavvyCAN CSV log
  %[1]s dump  <file.cbor|->        print a CBOR record stream

Run '%[1]s <command> --help' for the flags of a command.
The config file may also be given with $%s.
`, appName, config.EnvPath)
}
