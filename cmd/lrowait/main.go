// Package main provides the lrowait command: submit long-running operations
// and wait for them to finish.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/muaviaUsmani/lrowait/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Main(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}
