// Package plugin defines plugin interfaces.
package plugin

import "firestige.xyz/otrace/internal/core"

// Sink receives the decoded contents of one trace session, in wire order.
//
// All methods are invoked synchronously on the goroutine decoding the session.
// OnConnectionClosed and OnError are mutually exclusive and each is called at most once.
type Sink interface {
	OnHandshake(h core.SessionHandshake)
	OnModule(m core.ModuleDescriptor)
	OnLibrary(l core.LibraryDescriptor)
	OnSymbol(s core.SymbolDescriptor)
	OnEvent(ev core.Event)
	OnConnectionClosed()
	// OnError receives the fatal error that ended the session, usually a *core.DecodeError.
	OnError(err error)
}

// NopSink discards everything. Embed it to implement only part of Sink.
type NopSink struct{}

func (NopSink) OnHandshake(core.SessionHandshake) {}
func (NopSink) OnModule(core.ModuleDescriptor)    {}
func (NopSink) OnLibrary(core.LibraryDescriptor)  {}
func (NopSink) OnSymbol(core.SymbolDescriptor)    {}
func (NopSink) OnEvent(core.Event)                {}
func (NopSink) OnConnectionClosed()               {}
func (NopSink) OnError(error)                     {}
