// Package core defines the trace session data model with zero external dependencies.
package core

// SessionHandshake is the fixed-size header sent first on every connection.
// It establishes the clock mapping used to interpret every later time field.
type SessionHandshake struct {
	TSCFrequency      uint64 // Tick counter frequency in Hz
	AnchorSeconds     int64  // Wall clock seconds at AnchorTimestamp
	AnchorNanoseconds int64  // Wall clock nanoseconds at AnchorTimestamp
	AnchorTimestamp   uint64 // Tick counter value sampled together with the wall clock
}

// HandshakeLen is the wire size of SessionHandshake.
const HandshakeLen = 32

// ModuleDescriptor describes one instrumented module.
type ModuleDescriptor struct {
	ModuleID     uint16
	VersionMajor uint8
	VersionMinor uint8
	Name         string
}

// LibraryDescriptor describes one instrumented library.
type LibraryDescriptor struct {
	LibraryID uint16
	Version   uint16
	Name      string
}

// SymbolDescriptor associates a hooked symbol with its owning library and module.
type SymbolDescriptor struct {
	Name      string
	LibraryID uint8
	ModuleID  uint8
}

// Catalog is the complete metadata preamble of a session, in wire order.
type Catalog struct {
	Modules   []ModuleDescriptor
	Libraries []LibraryDescriptor
	Symbols   []SymbolDescriptor
}

// Len returns the total number of descriptors in the catalog.
func (c *Catalog) Len() int {
	return len(c.Modules) + len(c.Libraries) + len(c.Symbols)
}
