// Package dispatch runs one request/reply exchange: read a request, route it
// to its action, and write the reply.
package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/campaignd/internal/actions"
	"github.com/danmuck/campaignd/internal/observability"
	"github.com/danmuck/campaignd/internal/protocol"
	"github.com/danmuck/campaignd/internal/protocol/schema"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

const (
	MsgInternal     = "internal server error"
	unknownRequest  = "unknown"
	unrecognizedFmt = "unrecognized request: %s"
)

// Dispatcher routes requests through a frozen action registry.
type Dispatcher struct {
	registry *actions.Registry
	limits   protocol.Limits
}

// New freezes registry and returns a dispatcher that decodes within limits.
func New(registry *actions.Registry, limits protocol.Limits) *Dispatcher {
	registry.Freeze()
	return &Dispatcher{registry: registry, limits: limits.WithDefaults()}
}

func (d *Dispatcher) Limits() protocol.Limits {
	return d.limits
}

// Dispatch serves exactly one exchange on r and w.
//
// It returns io.EOF when the peer closed before sending a byte, a
// *protocol.FramingError when the request could not be decoded (nothing is
// written), and *NotFoundError, *RequestError or *ActionError after an
// "[error]" reply has been written. Any of those ends the connection.
func (d *Dispatcher) Dispatch(ctx context.Context, r *bufio.Reader, w io.Writer) error {
	start := time.Now()
	logger := loggerFrom(ctx)

	req, err := protocol.ReadRequest(r, d.limits)
	if err != nil {
		if errors.Is(err, io.EOF) && !protocol.IsFramingError(err) {
			return io.EOF
		}
		d.finish(logger, unknownRequest, 0, start, err)
		return err
	}
	name := req.Name()

	action, err := d.registry.MakeProduct(name)
	if err != nil {
		nf := &NotFoundError{Request: name, Err: err}
		n, werr := d.reply(w, protocol.ErrorReply(fmt.Sprintf(unrecognizedFmt, name)))
		err := multierr.Append(nf, werr)
		d.finish(logger, unknownRequest, n, start, err)
		return err
	}

	if err := schema.Validate(name, req.Body(), req.Binary()); err != nil {
		re := &RequestError{Request: name, Err: err}
		n, werr := d.reply(w, protocol.ErrorReply(err.Error()))
		err := multierr.Append(re, werr)
		d.finish(logger, name, n, start, err)
		return err
	}

	reply, err := action.Execute(ctx, req)
	if err == nil && reply == nil {
		err = errors.New("dispatch: action returned no reply")
	}
	if err != nil {
		msg, ok := actions.PublicMessage(err)
		if !ok {
			msg = MsgInternal
		}
		ae := &ActionError{Request: name, Err: err}
		n, werr := d.reply(w, protocol.ErrorReply(msg))
		err := multierr.Append(ae, werr)
		d.finish(logger, name, n, start, err)
		return err
	}

	n, err := d.reply(w, reply)
	d.finish(logger, name, n, start, err)
	return err
}

func (d *Dispatcher) reply(w io.Writer, reply *protocol.Reply) (int64, error) {
	n, err := reply.WriteTo(w)
	observability.RecordWireBytes(observability.DirectionOut, n)
	if err != nil {
		return n, fmt.Errorf("dispatch: write reply: %w", err)
	}
	return n, nil
}

func (d *Dispatcher) finish(logger *zerolog.Logger, request string, written int64, start time.Time, err error) {
	outcome := Category(err)
	elapsed := time.Since(start)
	observability.RecordDispatch(request, outcome, elapsed)

	ev := logger.Info()
	if err != nil {
		ev = logger.Warn().Err(err)
	}
	ev.Str("request", request).
		Str("outcome", outcome).
		Str("written", humanize.Bytes(uint64(written))).
		Dur("elapsed", elapsed).
		Msg("dispatch.exchange")
}

func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
