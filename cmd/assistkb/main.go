// Command assistkb ingests local folders and URL lists into an encrypted
// knowledge base and answers hybrid keyword and semantic searches over it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/saagar210/AssistSupport-sub002/cmd/assistkb/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cmd.Execute(ctx)
	stop()
	os.Exit(code)
}
