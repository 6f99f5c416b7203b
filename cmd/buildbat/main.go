// Command buildbat runs build jobs and reports their lifecycle to Spark rooms.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

func main() {
	err := newRootCommand().Execute()
	if err == nil {
		return
	}
	var exit *exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// exitError carries a wrapped command's exit status out of a subcommand.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
