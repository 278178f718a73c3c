// Package cmd provides the CLI commands for ChunkHound.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitCodeErr carries the §6 exit-code contract (0 success, 1
// usage/config error, 2 runtime failure) through cobra's RunE, which
// otherwise only gives callers an error and a flat os.Exit(1).
type exitCodeErr struct {
	code int
	err  error
}

func (e *exitCodeErr) Error() string { return e.err.Error() }
func (e *exitCodeErr) Unwrap() error { return e.err }

// usageError marks a failure that belongs to exit code 1: bad flags,
// missing config, an unreadable project root.
func usageError(err error) error {
	if err == nil {
		return nil
	}
	return &exitCodeErr{code: 1, err: err}
}

// runtimeError marks a failure that belongs to exit code 2: anything
// that happened after the process was validly configured and started
// doing real work (indexing, serving).
func runtimeError(err error) error {
	if err == nil {
		return nil
	}
	return &exitCodeErr{code: 2, err: err}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chunkhound",
		Short:         "Local-first code search, exposed over the Model Context Protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newMCPCmd())
	return cmd
}

// Execute runs the root command and returns the process exit code per
// §6: 0 success, 1 usage/config error, 2 runtime failure.
func Execute() int {
	err := newRootCmd().Execute()
	if err == nil {
		return 0
	}

	var ec *exitCodeErr
	if errors.As(err, &ec) {
		fmt.Fprintln(os.Stderr, "chunkhound:", ec.err)
		return ec.code
	}
	// cobra's own errors (bad flags, unknown subcommand) are usage errors.
	fmt.Fprintln(os.Stderr, "chunkhound:", err)
	return 1
}
