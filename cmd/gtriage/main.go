// File: cmd/gtriage/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/printforge/gcode-triage/cmd"
	"github.com/printforge/gcode-triage/internal/observability"
)

const panicLogFile = "panic.log"

// osExit allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	defer handlePanic()

	// Listen for interrupt signals (SIGINT, SIGTERM) for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			osExit(0) // Exit cleanly on graceful shutdown.
		}
		osExit(1)
	}
}

// handlePanic writes a crash report before the process dies. A stack trace
// in a file beats one scrolled off a terminal.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	report := fmt.Sprintf("panic at %s: %v\n\n%s\n",
		time.Now().Format(time.RFC3339), r, debug.Stack())
	if err := os.WriteFile(panicLogFile, []byte(report), 0o600); err != nil {
		fmt.Fprintln(os.Stderr, report)
	} else {
		fmt.Fprintf(os.Stderr, "gtriage crashed; details written to %s\n", panicLogFile)
	}
	observability.Sync()
	osExit(2)
}
