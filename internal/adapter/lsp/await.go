package lsp

import (
	"context"
	"encoding/json"

	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
)

// Blocking conveniences over the callback API. Cancelling ctx abandons the
// wait only: the underlying request stays registered and is still resolved
// exactly once, into a buffered channel nobody reads.

// AwaitInitialize runs Initialize and waits for its outcome.
func (c *Client) AwaitInitialize(ctx context.Context) error {
	done := make(chan error, 1)
	if err := c.Initialize(func(err error) { done <- err }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitDocumentSymbols runs GetDocumentSymbols and waits for the symbols.
func (c *Client) AwaitDocumentSymbols(ctx context.Context, uri string) ([]lspDomain.Symbol, error) {
	type outcome struct {
		symbols []lspDomain.Symbol
		err     error
	}
	done := make(chan outcome, 1)
	err := c.GetDocumentSymbols(uri, func(symbols []lspDomain.Symbol, err error) {
		done <- outcome{symbols, err}
	})
	if err != nil {
		return nil, err
	}
	select {
	case o := <-done:
		return o.symbols, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AwaitCustomRequest runs SendCustomRequest and waits for the raw result.
func (c *Client) AwaitCustomRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	err := c.SendCustomRequest(method, params, func(result json.RawMessage, err error) {
		done <- outcome{result, err}
	})
	if err != nil {
		return nil, err
	}
	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
