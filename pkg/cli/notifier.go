package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// consoleNotifier prints progress and alerts and asks for consent on the terminal
type consoleNotifier struct {
	in        io.Reader
	out       io.Writer
	assumeYes bool

	scanner *bufio.Scanner
}

func (n *consoleNotifier) Progress(msg string) {
	fmt.Fprintf(n.out, "  %s\n", msg)
}

func (n *consoleNotifier) Alert(msg string) {
	fmt.Fprintf(n.out, "! %s\n", msg)
}

// Confirm asks a yes/no question. Anything but y or yes, including EOF, is a no.
func (n *consoleNotifier) Confirm(msg string) bool {
	if n.assumeYes {
		return true
	}
	fmt.Fprintf(n.out, "? %s [y/N] ", msg)
	if n.scanner == nil {
		n.scanner = bufio.NewScanner(n.in)
	}
	if !n.scanner.Scan() {
		fmt.Fprintln(n.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(n.scanner.Text())) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
