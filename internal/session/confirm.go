package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
)

// StdinConfirmer blocks until the operator presses Enter. Cancelling
// the context unblocks the wait even though the underlying read on
// stdin cannot be interrupted.
type StdinConfirmer struct {
	In  io.Reader
	Out io.Writer
}

// NewStdinConfirmer wires the confirmer to the process stdin/stdout
func NewStdinConfirmer() *StdinConfirmer {
	return &StdinConfirmer{In: os.Stdin, Out: os.Stdout}
}

// Await prints the prompt and waits for a line of input or cancellation
func (c *StdinConfirmer) Await(ctx context.Context, prompt string) error {
	fmt.Fprintf(c.Out, "\n⏸️  %s (press Enter)\n", prompt)

	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(c.In).ReadString('\n')
		if err == io.EOF {
			err = nil
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
