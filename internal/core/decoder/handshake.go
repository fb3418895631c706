package decoder

import "firestige.xyz/otrace/internal/core"

// DecodeHandshake reads the fixed-size session header.
// End of stream before all 32 bytes arrive is KindHandshakeIncomplete.
func DecodeHandshake(f *FrameReader) (core.SessionHandshake, error) {
	var buf [core.HandshakeLen]byte
	if err := f.Fill(buf[:]); err != nil {
		return core.SessionHandshake{}, promote(err, core.KindHandshakeIncomplete)
	}
	o := f.ByteOrder()
	return core.SessionHandshake{
		TSCFrequency:      o.Uint64(buf[0:8]),
		AnchorSeconds:     int64(o.Uint64(buf[8:16])),
		AnchorNanoseconds: int64(o.Uint64(buf[16:24])),
		AnchorTimestamp:   o.Uint64(buf[24:32]),
	}, nil
}
