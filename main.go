package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/domgiordano/xomcloud-backend/batch"
	"github.com/domgiordano/xomcloud-backend/track"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitUsage   = 1 // Bad arguments or configuration.
	exitInvalid = 2 // Request body rejected.
	exitEmpty   = 3 // No track could be downloaded.
	exitFailure = 4
)

// usageError marks errors caused by how the command was invoked.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func printFatalError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	os.Exit(code)
}

// run executes the command line in args and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) int {
	root := newRootCmd(stdin, stdout)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil {
		printFatalError(err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	var ue *usageError
	var ve *track.ValidationError

	switch {
	case err == nil:
		return 0
	case errors.As(err, &ue):
		return exitUsage
	case errors.As(err, &ve):
		return exitInvalid
	case errors.Is(err, batch.ErrEmptyBatch):
		return exitEmpty
	default:
		return exitFailure
	}
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "xomcloud",
		Short:         "Download batches of tracks into a single zip archive",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to config file (default ./xomcloud.yaml if present)")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.AddCommand(newDownloadCmd(stdin, stdout))
	return root
}
