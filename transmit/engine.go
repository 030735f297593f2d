// Package transmit implements the retry/chaining policy that sits
// between application-level operations and the raw transport: Le
// presence negotiation, one-shot retry on transport failure, escape
// fallback, and multi-frame reassembly.
package transmit

import (
	"context"
	"log/slog"
	"time"

	"github.com/barnettlynn/desfire/apdu"
	"github.com/barnettlynn/desfire/deferr"
	"github.com/barnettlynn/desfire/transport"
)

// chunkBudget is the conservative per-frame payload size used for
// chunked writes, chosen for broad reader compatibility rather than
// the protocol maximum.
const chunkBudget = 40

const transportRetryDelay = 80 * time.Millisecond

// Engine wraps a transport.Reader with the Le-negotiation and
// chaining policy. It is not safe for concurrent use; each logical
// session owns exactly one Engine.
type Engine struct {
	Reader transport.Reader

	// PreferNoLe is sticky per session: once a reader's accepted form
	// is learned it is not re-probed.
	PreferNoLe bool

	log *slog.Logger
}

// New constructs an Engine with the initial Le preference set per
// spec (prefer no Le first).
func New(r transport.Reader) *Engine {
	return &Engine{Reader: r, PreferNoLe: true, log: slog.Default()}
}

// Do sends a single logical command (ins, data) and returns the parsed
// response, applying Le-negotiation, transport retry and escape
// fallback. It does not perform multi-frame reassembly; use DoChained
// for operations whose response may continue with 91 AF.
func (e *Engine) Do(ctx context.Context, ins byte, data []byte) (apdu.Response, error) {
	return e.attempt(ctx, ins, data)
}

// attempt tries both Le-presence forms (each with a one-shot transport
// retry), falls back to escape framing if available and the failure
// was an empty/short response rather than a definitive length error,
// and otherwise surfaces the last response or transport error.
func (e *Engine) attempt(ctx context.Context, ins byte, data []byte) (apdu.Response, error) {
	resp, ok, err := e.tryForms(ctx, ins, data, e.leForms())
	if ok {
		return resp, nil
	}

	if resp.SW1 != 0 || resp.SW2 != 0 {
		// Both Le forms came back as length errors (91 7E/91 A1): a
		// genuine length mismatch, not a reason to reach for escape
		// framing. Surface the last one for deferr.Classify to handle.
		return resp, nil
	}

	if _, escapable := e.Reader.(transport.EscapeCapable); escapable {
		// Only empty/too-short responses (no SW captured above) fall
		// through to here; retry those over the escape channel.
		if escResp, escErr := e.tryEscape(ctx, ins, data); escErr == nil {
			return escResp, nil
		}
	}

	if err != nil {
		return apdu.Response{}, deferr.Wrap(deferr.KindTransport, 0, 0, err)
	}
	return apdu.Response{}, deferr.New(deferr.KindTransport)
}

// tryForms sends ins/data under each Le form in order, returning as
// soon as one yields a definitive (non-length-error) response.
func (e *Engine) tryForms(ctx context.Context, ins byte, data []byte, forms []*byte) (apdu.Response, bool, error) {
	var lastResp apdu.Response
	var lastErr error

	for _, form := range forms {
		raw, err := e.transmitWithRetry(ctx, ins, data, form)
		if err != nil {
			lastErr = err
			continue
		}
		resp, perr := apdu.Parse(raw)
		if perr != nil {
			lastErr = perr
			continue
		}
		if resp.IsLengthError() {
			lastResp = resp
			continue
		}
		e.PreferNoLe = form == nil
		return resp, true, nil
	}
	return lastResp, false, lastErr
}

// leForms returns the two Le-presence forms to try, preferred form
// first, as nil (no Le byte) or a pointer to 0x00.
func (e *Engine) leForms() []*byte {
	zero := byte(0x00)
	if e.PreferNoLe {
		return []*byte{nil, &zero}
	}
	return []*byte{&zero, nil}
}

func (e *Engine) transmitWithRetry(ctx context.Context, ins byte, data []byte, le *byte) ([]byte, error) {
	req := apdu.Build(ins, data, le)
	raw, err := e.Reader.Transmit(ctx, req)
	if err == nil {
		return raw, nil
	}
	e.log.Debug("transmit failed, retrying once", "ins", ins, "err", err)
	select {
	case <-time.After(transportRetryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.Reader.Transmit(ctx, req)
}

// tryEscape sends the command (with Le=00) once through the reader's
// Escape method. Trying the raw APDU and the two PN532 wrappings in
// turn is the escape adapter's own concern; here the engine only
// decides when to reach for escape at all.
func (e *Engine) tryEscape(ctx context.Context, ins byte, data []byte) (apdu.Response, error) {
	esc := e.Reader.(transport.EscapeCapable)
	le := byte(0x00)
	req := apdu.Build(ins, data, &le)
	raw, err := esc.Escape(ctx, req)
	if err != nil {
		return apdu.Response{}, err
	}
	return apdu.Parse(raw)
}
