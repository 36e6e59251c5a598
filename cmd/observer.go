package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/achilleasa/kdtracer/kdtree"
	"github.com/mattn/go-isatty"
)

// Cache write policies for the command line observer.
type cachePolicy uint8

const (
	// Ask the user if stdin is a terminal; skip caching otherwise.
	cacheAsk cachePolicy = iota

	// Always write the cache.
	cacheAlways

	// Never write the cache.
	cacheNever
)

// A BuildObserver that forwards status updates to the logger and asks the
// user before writing a cache file.
type promptObserver struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	policy      cachePolicy
}

// Create an observer bound to the process stdin/stdout.
func newPromptObserver(policy cachePolicy) kdtree.BuildObserver {
	fd := os.Stdin.Fd()
	return &promptObserver{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stdout,
		interactive: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
		policy:      policy,
	}
}

func (o *promptObserver) Status(msg string) {
	logger.Info(msg)
}

func (o *promptObserver) ConfirmCache() bool {
	switch o.policy {
	case cacheAlways:
		return true
	case cacheNever:
		return false
	}

	if !o.interactive {
		logger.Info("stdin is not a terminal; skipping KD-tree caching (use --yes to enable)")
		return false
	}

	fmt.Fprint(o.out, "Cache KD-tree to speed up subsequent runs? [Y/n] ")
	answer, err := o.in.ReadString('\n')
	if err != nil && answer == "" {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return true
	}
	return false
}
