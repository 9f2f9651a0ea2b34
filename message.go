// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package gracht implements the wire framing, link, reactor, dispatch and
// worker-pool core of a lightweight RPC framework over local sockets.
//
// Wire format (little-endian, fixed 12-byte header):
//
//	bytes 0..3:   message id (u32), unique per sender
//	bytes 4..7:   total frame length including header (u32)
//	byte  8:      protocol id (u8)
//	byte  9:      action id (u8)
//	byte  10:     param_in count (u8)
//	byte  11:     param_out count (u8)
//	bytes 12..:   param_in descriptors, then param_out descriptors, then
//	              inline buffer payload bytes referenced by descriptor offsets
//
// A parameter descriptor is 12 bytes: a 1-byte tag (SCALAR, BUFFER, SHM)
// followed by either an 8-byte inline scalar value or a (length, offset)
// pair locating a buffer's bytes elsewhere in the same frame. SHM
// descriptors are rejected before send and on receive (see spec.md §3, §4.1).
package gracht

import (
	"encoding/binary"
)

const (
	headerLen     = 12
	descriptorLen = 12

	// DefaultMaxMessageSize is used when Config.MaxMessageSize is zero.
	DefaultMaxMessageSize = 64 * 1024

	// slotOverhead is the fixed metadata reserved ahead of the payload in
	// every arena slot (spec.md §3 "Arena slot").
	slotOverhead = 512
)

// ParamTag describes how a parameter's bytes are carried on the wire.
type ParamTag uint8

const (
	ParamScalar ParamTag = 0
	ParamBuffer ParamTag = 1
	ParamSHM    ParamTag = 2
)

// ParamDescriptor is the decoded, wire-shaped view of one parameter: a
// descriptor either carries an inline scalar or locates a buffer elsewhere
// in the same frame by (length, offset). It never copies payload bytes out
// of the frame; BufferBytes slices the frame's backing array directly so
// the arena-backed receive path stays zero-copy end to end.
type ParamDescriptor struct {
	Tag    ParamTag
	Scalar uint64 // valid when Tag == ParamScalar
	Length uint32 // valid when Tag == ParamBuffer
	Offset uint32 // valid when Tag == ParamBuffer: byte offset from frame start
}

// OutParam is the value-shaped form used when building an outgoing frame:
// callers supply either a Scalar or a Buffer, never an offset.
type OutParam struct {
	Tag    ParamTag
	Scalar uint64
	Buffer []byte
}

// Frame is the decoded in-memory view of one received message. Its
// descriptors reference byte ranges inside raw, which is either an arena
// slot (multi-threaded mode) or a static per-server buffer (single-threaded
// mode); ownership of raw is governed by whichever allocator produced it,
// never by Frame itself (spec.md §5 "Memory safety on the message handoff path").
type Frame struct {
	MessageID  uint32
	Length     uint32
	ProtocolID uint8
	ActionID   uint8
	ParamsIn   []ParamDescriptor
	ParamsOut  []ParamDescriptor

	raw []byte
}

// BufferBytes returns the payload bytes described by d, which must belong
// to this frame and have Tag == ParamBuffer.
func (f *Frame) BufferBytes(d ParamDescriptor) []byte {
	return f.raw[d.Offset : d.Offset+d.Length]
}

// DecodeFrame parses a complete frame (header + descriptor table + payload)
// out of raw. raw is retained by reference, not copied: descriptors
// returned in the Frame slice into it directly (I1, I3).
func DecodeFrame(raw []byte, maxMessageSize uint32) (*Frame, error) {
	if len(raw) < headerLen {
		return nil, ErrBrokenFrame
	}
	length := binary.LittleEndian.Uint32(raw[4:8])
	if length < headerLen || int(length) > len(raw) {
		return nil, ErrBrokenFrame
	}
	if maxMessageSize > 0 && length > maxMessageSize {
		return nil, ErrTooLong
	}

	f := &Frame{
		MessageID:  binary.LittleEndian.Uint32(raw[0:4]),
		Length:     length,
		ProtocolID: raw[8],
		ActionID:   raw[9],
		raw:        raw[:length],
	}
	nIn := int(raw[10])
	nOut := int(raw[11])

	off := headerLen
	descs := make([]ParamDescriptor, 0, nIn+nOut)
	for i := 0; i < nIn+nOut; i++ {
		if off+descriptorLen > int(length) {
			return nil, ErrBrokenFrame
		}
		d, err := decodeDescriptor(raw[off : off+descriptorLen])
		if err != nil {
			return nil, err
		}
		if d.Tag == ParamBuffer {
			end := int(d.Offset) + int(d.Length)
			if end > int(length) || int(d.Offset) < headerLen {
				return nil, ErrBrokenFrame
			}
		}
		descs = append(descs, d)
		off += descriptorLen
	}
	f.ParamsIn = descs[:nIn]
	f.ParamsOut = descs[nIn:]
	return f, nil
}

func decodeDescriptor(b []byte) (ParamDescriptor, error) {
	tag := ParamTag(b[0])
	if tag == ParamSHM {
		// SHM parameters are rejected outright: shared-memory transport is
		// explicitly unsupported (spec.md §1 Out of scope).
		return ParamDescriptor{}, ErrNotSupported
	}
	if tag == ParamScalar {
		return ParamDescriptor{Tag: tag, Scalar: binary.LittleEndian.Uint64(b[4:12])}, nil
	}
	return ParamDescriptor{
		Tag:    tag,
		Length: binary.LittleEndian.Uint32(b[4:8]),
		Offset: binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// EncodeFrame serializes a frame into buf and returns the number of bytes
// written. buf is normally the static send buffer (single-threaded mode) or
// the current worker's scratchpad (multi-threaded mode); EncodeFrame never
// allocates. It returns ErrTooLong if the encoded frame would not fit in
// buf, and ErrNotSupported if any parameter carries ParamSHM.
func EncodeFrame(buf []byte, messageID uint32, protocolID, actionID uint8, paramsIn, paramsOut []OutParam) (int, error) {
	descTable := (len(paramsIn) + len(paramsOut)) * descriptorLen
	bufOff := headerLen + descTable

	payloadLen := 0
	for _, p := range paramsIn {
		if p.Tag == ParamSHM {
			return 0, ErrNotSupported
		}
		if p.Tag == ParamBuffer {
			payloadLen += len(p.Buffer)
		}
	}
	for _, p := range paramsOut {
		if p.Tag == ParamSHM {
			return 0, ErrNotSupported
		}
		if p.Tag == ParamBuffer {
			payloadLen += len(p.Buffer)
		}
	}
	total := bufOff + payloadLen
	if total > len(buf) {
		return 0, ErrTooLong
	}
	if len(paramsIn) > 0xFF || len(paramsOut) > 0xFF {
		return 0, ErrInvalidArgument
	}

	binary.LittleEndian.PutUint32(buf[0:4], messageID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(total))
	buf[8] = protocolID
	buf[9] = actionID
	buf[10] = byte(len(paramsIn))
	buf[11] = byte(len(paramsOut))

	descOff := headerLen
	payloadOff := bufOff
	writeGroup := func(group []OutParam) {
		for _, p := range group {
			if p.Tag == ParamScalar {
				buf[descOff] = byte(ParamScalar)
				binary.LittleEndian.PutUint64(buf[descOff+4:descOff+12], p.Scalar)
			} else {
				n := copy(buf[payloadOff:], p.Buffer)
				buf[descOff] = byte(ParamBuffer)
				binary.LittleEndian.PutUint32(buf[descOff+4:descOff+8], uint32(n))
				binary.LittleEndian.PutUint32(buf[descOff+8:descOff+12], uint32(payloadOff))
				payloadOff += n
			}
			descOff += descriptorLen
		}
	}
	writeGroup(paramsIn)
	writeGroup(paramsOut)

	return total, nil
}

// Envelope wraps a received Frame with its origin and a cursor used by
// handlers to walk ParamsIn in order (spec.md §3 "Received message envelope").
type Envelope struct {
	Client *ClientHandle
	Frame  *Frame
	index  int

	// origin carries a datagram sender's address when no ClientHandle has
	// been created for it yet (pre-subscribe first contact, spec.md §4.6).
	origin *datagramOrigin

	// slot is non-nil in multi-threaded mode: the arena slot backing Frame,
	// freed exactly once by the worker on handler completion (I1, I3).
	slot *Slot
}

// Next returns the next ParamsIn descriptor and advances the cursor, or
// ok==false once every input parameter has been consumed.
func (e *Envelope) Next() (d ParamDescriptor, ok bool) {
	if e.index >= len(e.Frame.ParamsIn) {
		return ParamDescriptor{}, false
	}
	d = e.Frame.ParamsIn[e.index]
	e.index++
	return d, true
}

// Reset rewinds the cursor so a handler can re-walk ParamsIn.
func (e *Envelope) Reset() { e.index = 0 }

// slotSize returns the fixed arena slot size for a given configured maximum
// message size (spec.md §3 "Arena slot").
func slotSize(maxMessageSize uint32) int {
	return int(maxMessageSize) + slotOverhead
}
