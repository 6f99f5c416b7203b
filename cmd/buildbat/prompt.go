package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// promptSecret reads a value from the terminal with echo disabled.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.Errorf("no terminal available to prompt for %s", strings.ToLower(label))
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrapf(err, "read %s", strings.ToLower(label))
	}
	return strings.TrimSpace(string(b)), nil
}
