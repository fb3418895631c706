// Package codec serializes output records for reporters that write bytes.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"firestige.xyz/otrace/internal/core"
)

// Encoder turns an output record into bytes.
type Encoder interface {
	Name() string
	ContentType() string
	Encode(rec *core.OutputRecord) ([]byte, error)
}

// JSON encodes records as single-line JSON documents.
type JSON struct{}

func (JSON) Name() string        { return "json" }
func (JSON) ContentType() string { return "application/json" }

func (JSON) Encode(rec *core.OutputRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("nil record")
	}
	return json.Marshal(rec.Document())
}

// CBOR encodes records as CBOR maps (RFC 8949).
type CBOR struct {
	mode cbor.EncMode
}

// NewCBOR returns a CBOR encoder with deterministic map ordering.
func NewCBOR() (*CBOR, error) {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	return &CBOR{mode: mode}, nil
}

func (*CBOR) Name() string        { return "cbor" }
func (*CBOR) ContentType() string { return "application/cbor" }

func (c *CBOR) Encode(rec *core.OutputRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("nil record")
	}
	return c.mode.Marshal(rec.Document())
}

// ByName returns the encoder for "json" (default when empty) or "cbor".
func ByName(name string) (Encoder, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON{}, nil
	case "cbor":
		return NewCBOR()
	default:
		return nil, fmt.Errorf("unknown encoding %q (must be json/cbor)", name)
	}
}
