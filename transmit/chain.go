package transmit

import (
	"context"

	"github.com/barnettlynn/desfire/apdu"
	"github.com/barnettlynn/desfire/deferr"
)

// DoChained sends ins/data and, if the response continues with 91 AF,
// transparently issues ADDITIONAL_FRAME commands until a non-
// continuation status is reached, concatenating all payload
// fragments. Callers of this method never see continuation frames.
func (e *Engine) DoChained(ctx context.Context, ins byte, data []byte) ([]byte, apdu.Response, error) {
	resp, err := e.Do(ctx, ins, data)
	if err != nil {
		return nil, apdu.Response{}, err
	}

	out := append([]byte(nil), resp.Data...)
	for resp.IsContinuation() {
		resp, err = e.Do(ctx, apdu.OpcodeAdditionalFrame, nil)
		if err != nil {
			return nil, apdu.Response{}, err
		}
		out = append(out, resp.Data...)
	}

	if !resp.IsSuccess() {
		return out, resp, deferr.Wrap(deferr.Classify(resp.SW1, resp.SW2), resp.SW1, resp.SW2, nil)
	}
	return out, resp, nil
}

// WriteChained splits data into chunkBudget-sized frames and writes
// them as a single logical command: the first frame carries ins plus
// header plus as much of data as fits in the chunk budget, subsequent
// frames are ADDITIONAL_FRAME continuations carrying the remaining
// bytes, until all of data has been sent.
func (e *Engine) WriteChained(ctx context.Context, ins byte, header, data []byte) (apdu.Response, error) {
	remaining := data
	take := chunkBudget
	if take > len(remaining) {
		take = len(remaining)
	}
	first := append(append([]byte(nil), header...), remaining[:take]...)
	remaining = remaining[take:]

	resp, err := e.Do(ctx, ins, first)
	if err != nil {
		return apdu.Response{}, err
	}

	for len(remaining) > 0 && resp.IsContinuation() {
		take = chunkBudget
		if take > len(remaining) {
			take = len(remaining)
		}
		frame := remaining[:take]
		remaining = remaining[take:]
		resp, err = e.Do(ctx, apdu.OpcodeAdditionalFrame, frame)
		if err != nil {
			return apdu.Response{}, err
		}
	}

	if !resp.IsSuccess() && !resp.IsContinuation() {
		return resp, deferr.Wrap(deferr.Classify(resp.SW1, resp.SW2), resp.SW1, resp.SW2, nil)
	}
	return resp, nil
}
