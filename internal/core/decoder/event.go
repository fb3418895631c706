package decoder

import (
	"errors"
	"fmt"

	"firestige.xyz/otrace/internal/core"
)

// DecodeEvent reads one tagged event record.
//
// End of stream exactly at the tag boundary returns a KindClosed error, the normal end
// of a session. A partial tag or payload is KindTruncatedEvent and an unknown tag is
// KindProtocolViolation; neither is recoverable since record boundaries are lost.
func DecodeEvent(f *FrameReader) (core.Event, error) {
	start := f.Offset()
	raw, err := f.U64()
	if err != nil {
		if isClosed(err) {
			return nil, err
		}
		return nil, promote(err, core.KindTruncatedEvent)
	}

	tag := core.Tag(raw)
	o := f.ByteOrder()
	var ev core.Event

	switch tag {
	case core.TagSpanStart:
		var p [core.SpanStartLen]byte
		if err = f.Fill(p[:]); err == nil {
			ev = core.SpanStart{
				ThreadID: o.Uint64(p[0:8]),
				Time:     o.Uint64(p[8:16]),
				LabelID:  o.Uint64(p[16:24]),
			}
		}
	case core.TagSpanEnd:
		var p [core.SpanEndLen]byte
		if err = f.Fill(p[:]); err == nil {
			ev = core.SpanEnd{
				ThreadID: o.Uint64(p[0:8]),
				Time:     o.Uint64(p[8:16]),
			}
		}
	case core.TagCountersUpdate:
		var p [core.CountersUpdateLen]byte
		if err = f.Fill(p[:]); err == nil {
			ev = core.CountersUpdate{
				ThreadID:            o.Uint64(p[0:8]),
				DroppedPacketsDelta: o.Uint64(p[8:16]),
				LastTime:            o.Uint64(p[16:24]),
				Time:                o.Uint64(p[24:32]),
			}
		}
	case core.TagSpanStartAdditionalData:
		ev, err = decodeSpanStartData(f)
	default:
		return nil, &core.DecodeError{
			Kind:   core.KindProtocolViolation,
			Tag:    tag,
			HasTag: true,
			Offset: start,
			Err:    fmt.Errorf("unknown event tag %d", raw),
		}
	}

	if err != nil {
		return nil, eventError(err, tag, start)
	}
	return ev, nil
}

func decodeSpanStartData(f *FrameReader) (core.Event, error) {
	var p [core.SpanStartAdditionalDataHdrLen]byte
	if err := f.Fill(p[:]); err != nil {
		return nil, err
	}
	o := f.ByteOrder()
	ev := core.SpanStartAdditionalData{
		ThreadID: o.Uint64(p[0:8]),
		Time:     o.Uint64(p[8:16]),
		LabelID:  o.Uint64(p[16:24]),
	}
	extraLen := o.Uint64(p[24:32])
	if extraLen > f.limits.MaxExtraBytes {
		return nil, &core.DecodeError{
			Kind: core.KindProtocolViolation,
			Err:  fmt.Errorf("extra_len %d exceeds limit %d", extraLen, f.limits.MaxExtraBytes),
		}
	}
	data, err := f.ReadExact(int(extraLen))
	if err != nil {
		return nil, err
	}
	ev.ExtraData = data
	return ev, nil
}

// eventError promotes a short read to KindTruncatedEvent and stamps the tag and the
// record's start offset.
func eventError(err error, tag core.Tag, start int64) error {
	err = promote(err, core.KindTruncatedEvent)
	var de *core.DecodeError
	if errors.As(err, &de) {
		de.Tag, de.HasTag, de.Offset = tag, true, start
	}
	return err
}
