package session

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdinConfirmerReturnsOnInput(t *testing.T) {
	var out bytes.Buffer
	c := &StdinConfirmer{In: strings.NewReader("\n"), Out: &out}

	err := c.Await(context.Background(), "resolve the challenge")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "resolve the challenge")
}

func TestStdinConfirmerHonorsCancellation(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close() //nolint:errcheck
	c := &StdinConfirmer{In: r, Out: io.Discard}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.Await(ctx, "never confirmed")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
