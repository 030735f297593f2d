// Package pcsc adapts github.com/ebfe/scard to the transport.Reader
// contract.
package pcsc

import (
	"context"
	"fmt"

	"github.com/ebfe/scard"

	"github.com/barnettlynn/desfire/deferr"
)

// Connection wraps a single PC/SC card connection. It is not safe for
// concurrent use.
type Connection struct {
	ctx       *scard.Context
	card      *scard.Card
	reader    string
	readerIdx int
}

// ListReaders enumerates the PC/SC readers visible to the system,
// releasing the context it used to do so.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}
	defer ctx.Release()
	return ctx.ListReaders()
}

// Connect opens a shared-mode connection to the reader at readerIndex.
func Connect(readerIndex int) (*Connection, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: no readers found: %w", err)
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: reader index out of range (0..%d)", len(readers)-1)
	}

	reader := readers[readerIndex]
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: connect to %q: %w", reader, err)
	}

	return &Connection{ctx: ctx, card: card, reader: reader, readerIdx: readerIndex}, nil
}

// Close disconnects the card and releases the PC/SC context.
func (c *Connection) Close() {
	if c == nil {
		return
	}
	if c.card != nil {
		_ = c.card.Disconnect(scard.LeaveCard)
	}
	if c.ctx != nil {
		_ = c.ctx.Release()
	}
}

// Name reports the underlying PC/SC reader name, used by callers
// deciding whether to layer the escape adapter on top (e.g. matching
// on "ACR122").
func (c *Connection) Name() string { return c.reader }

// Transmit implements transport.Reader.
func (c *Connection) Transmit(_ context.Context, req []byte) ([]byte, error) {
	if c == nil || c.card == nil {
		return nil, deferr.Wrap(deferr.KindTransport, 0, 0, fmt.Errorf("pcsc: connection not established"))
	}
	resp, err := c.card.Transmit(req)
	if err != nil {
		return nil, deferr.Wrap(deferr.KindTransport, 0, 0, err)
	}
	return resp, nil
}
