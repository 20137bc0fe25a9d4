// cmd/crew/main.go
//
// This is the entry point for the crew CLI.
// When you run `crew` from any directory, that directory is the project and
// its state lives in .crew/.

package main

import (
	"fmt"
	"os"

	"github.com/kingrea/crew/internal/cli"
	"github.com/kingrea/crew/internal/session"
)

func main() {
	app := cli.NewApp()
	// A panic anywhere below still flushes the current session first.
	defer session.FlushOnPanic(app, nil)

	if err := app.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
