package approval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrCancelled reports that the wait for a human decision was cancelled
// before a response arrived.
var ErrCancelled = errors.New("approval wait cancelled")

// Surface presents a pending decision and returns the human's raw response
// text. Request blocks until a response arrives or ctx is done; the gate
// treats cancellation as a decline with no action taken.
type Surface interface {
	Request(ctx context.Context, p PendingDecision) (string, error)
}

// TerminalSurface prompts on an interactive reader/writer pair.
type TerminalSurface struct {
	In  io.Reader
	Out io.Writer
}

func (t *TerminalSurface) Request(ctx context.Context, p PendingDecision) (string, error) {
	fmt.Fprintf(t.Out, "\n[%s] %s\n", strings.ToUpper(p.Tier), p.Command)
	if p.Consequence != "" {
		fmt.Fprintf(t.Out, "  %s\n", p.Consequence)
	}
	if !p.Reversible {
		fmt.Fprintln(t.Out, "  This action is not reversible.")
	}
	if p.Alternative != "" {
		fmt.Fprintf(t.Out, "  Alternative: %s\n", p.Alternative)
	}
	if p.Justification != "" {
		fmt.Fprintf(t.Out, "  %s\n", p.Justification)
	}
	fmt.Fprint(t.Out, "approve? [yes/no/why] > ")

	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(t.In).ReadString('\n')
		if err != nil && line == "" {
			errCh <- err
			return
		}
		lineCh <- strings.TrimSpace(line)
	}()

	select {
	case line := <-lineCh:
		return line, nil
	case err := <-errCh:
		return "", fmt.Errorf("%w: %v", ErrCancelled, err)
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}

// ChannelSurface delivers pending decisions to a channel and reads
// responses from another. Used by embedders and tests.
type ChannelSurface struct {
	Pending   chan PendingDecision
	Responses chan string
}

func NewChannelSurface() *ChannelSurface {
	return &ChannelSurface{
		Pending:   make(chan PendingDecision, 1),
		Responses: make(chan string),
	}
}

func (c *ChannelSurface) Request(ctx context.Context, p PendingDecision) (string, error) {
	select {
	case c.Pending <- p:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	select {
	case resp := <-c.Responses:
		return resp, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}
