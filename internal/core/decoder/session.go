package decoder

import (
	"context"
	"io"
	"sync/atomic"

	"firestige.xyz/otrace/pkg/plugin"
)

// Session decodes one trace connection into a Sink.
type Session struct {
	src    io.Reader
	sink   plugin.Sink
	fr     *FrameReader
	events atomic.Uint64
}

// NewSession creates a session reading from src and delivering to sink.
func NewSession(src io.Reader, sink plugin.Sink, opts Options) *Session {
	return &Session{
		src:  src,
		sink: sink,
		fr:   NewFrameReader(src, opts),
	}
}

// Offset returns the number of bytes consumed so far. Safe for concurrent use.
func (s *Session) Offset() int64 { return s.fr.Offset() }

// Events returns the number of events delivered so far. Safe for concurrent use.
func (s *Session) Events() uint64 { return s.events.Load() }

// Run decodes the handshake, the catalog and then events until the stream ends.
//
// A clean close at an event boundary calls OnConnectionClosed and returns nil.
// Any other failure is passed to OnError and returned. Cancelling ctx closes src
// when it implements io.Closer and makes Run return ctx.Err() without calling
// OnError or delivering further events. Run must be called at most once.
func (s *Session) Run(ctx context.Context) error {
	if closer, ok := s.src.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = closer.Close() })
		defer stop()
	}

	err := s.run(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	s.sink.OnError(err)
	return err
}

func (s *Session) run(ctx context.Context) error {
	h, err := DecodeHandshake(s.fr)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sink.OnHandshake(h)

	catalog, err := DecodeCatalog(s.fr)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, m := range catalog.Modules {
		s.sink.OnModule(m)
	}
	for _, l := range catalog.Libraries {
		s.sink.OnLibrary(l)
	}
	for _, sym := range catalog.Symbols {
		s.sink.OnSymbol(sym)
	}

	for {
		ev, err := DecodeEvent(s.fr)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if isClosed(err) {
				s.sink.OnConnectionClosed()
				return nil
			}
			return err
		}
		s.events.Add(1)
		s.sink.OnEvent(ev)
	}
}

// Decode runs a session over src with default options until it ends.
func Decode(ctx context.Context, src io.Reader, sink plugin.Sink) error {
	return NewSession(src, sink, DefaultOptions()).Run(ctx)
}
