package echolsp

import (
	"context"
	"os"
)

// Stdio joins the process's stdin and stdout into one stream.
type Stdio struct{}

func (Stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (Stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func (Stdio) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}

// RunStdio serves on stdin/stdout and returns the process exit status.
func RunStdio(ctx context.Context, opts Options) int {
	return New(opts).Serve(ctx, Stdio{})
}
