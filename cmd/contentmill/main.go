// contentmill runs a phased content pipeline over scored topic candidates
// in concurrent batches and ranks what comes out.
//
// Usage:
//
//	contentmill run --topic="<topic>"
//	contentmill step --run-id=<id> --step=<n>
//	contentmill batch --candidates=<file> [--target=<n>] [--strategy=<name>]
//	contentmill rank --batch-id=<id>
//	contentmill catalog [--path=<file>]
//	contentmill serve
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
