// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	buf := make([]byte, 256)
	n, err := EncodeFrame(buf, 7, 5, 9,
		[]OutParam{{Tag: ParamScalar, Scalar: 42}},
		[]OutParam{{Tag: ParamBuffer, Buffer: []byte("hello")}},
	)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	f, err := DecodeFrame(buf[:n], DefaultMaxMessageSize)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if f.MessageID != 7 || f.ProtocolID != 5 || f.ActionID != 9 {
		t.Fatalf("header mismatch: %+v", f)
	}
	if len(f.ParamsIn) != 1 || f.ParamsIn[0].Tag != ParamScalar || f.ParamsIn[0].Scalar != 42 {
		t.Fatalf("paramsIn mismatch: %+v", f.ParamsIn)
	}
	if len(f.ParamsOut) != 1 || f.ParamsOut[0].Tag != ParamBuffer {
		t.Fatalf("paramsOut mismatch: %+v", f.ParamsOut)
	}
	got := f.BufferBytes(f.ParamsOut[0])
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("buffer bytes = %q, want %q", got, "hello")
	}
}

func TestDecodeFrame_TooShortIsBrokenFrame(t *testing.T) {
	_, err := DecodeFrame([]byte{1, 2, 3}, DefaultMaxMessageSize)
	if !errors.Is(err, ErrBrokenFrame) {
		t.Fatalf("err = %v, want ErrBrokenFrame", err)
	}
}

func TestDecodeFrame_OversizeIsTooLong(t *testing.T) {
	buf := make([]byte, 512)
	n, err := EncodeFrame(buf, 1, 1, 1, []OutParam{{Tag: ParamBuffer, Buffer: make([]byte, 300)}}, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	_, err = DecodeFrame(buf[:n], 64)
	if !errors.Is(err, ErrTooLong) {
		t.Fatalf("err = %v, want ErrTooLong", err)
	}
}

func TestDecodeFrame_TruncatedDescriptorTable(t *testing.T) {
	buf := make([]byte, 64)
	n, err := EncodeFrame(buf, 1, 1, 1, []OutParam{{Tag: ParamScalar, Scalar: 1}}, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	// Truncate the buffer so the declared length claims more than is present.
	_, err = DecodeFrame(buf[:n-1], DefaultMaxMessageSize)
	if !errors.Is(err, ErrBrokenFrame) {
		t.Fatalf("err = %v, want ErrBrokenFrame", err)
	}
}

func TestDecodeFrame_BufferDescriptorOutOfRange(t *testing.T) {
	buf := make([]byte, 64)
	n, err := EncodeFrame(buf, 1, 1, 1, []OutParam{{Tag: ParamBuffer, Buffer: []byte("ok")}}, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	// Corrupt the buffer descriptor's length field to point past the frame.
	buf[headerLen+4] = 0xFF
	buf[headerLen+5] = 0xFF
	_, err = DecodeFrame(buf[:n], DefaultMaxMessageSize)
	if !errors.Is(err, ErrBrokenFrame) {
		t.Fatalf("err = %v, want ErrBrokenFrame", err)
	}
}

func TestDecodeDescriptor_SHMRejected(t *testing.T) {
	b := make([]byte, descriptorLen)
	b[0] = byte(ParamSHM)
	_, err := decodeDescriptor(b)
	if !errors.Is(err, ErrNotSupported) {
		t.Fatalf("err = %v, want ErrNotSupported", err)
	}
}

func TestEncodeFrame_SHMRejected(t *testing.T) {
	buf := make([]byte, 64)
	_, err := EncodeFrame(buf, 1, 1, 1, []OutParam{{Tag: ParamSHM}}, nil)
	if !errors.Is(err, ErrNotSupported) {
		t.Fatalf("err = %v, want ErrNotSupported", err)
	}
}

func TestEncodeFrame_TooLongForBuffer(t *testing.T) {
	buf := make([]byte, 16)
	_, err := EncodeFrame(buf, 1, 1, 1, []OutParam{{Tag: ParamBuffer, Buffer: make([]byte, 64)}}, nil)
	if !errors.Is(err, ErrTooLong) {
		t.Fatalf("err = %v, want ErrTooLong", err)
	}
}

func TestEnvelope_NextReset(t *testing.T) {
	f := &Frame{ParamsIn: []ParamDescriptor{{Tag: ParamScalar, Scalar: 1}, {Tag: ParamScalar, Scalar: 2}}}
	env := &Envelope{Frame: f}

	d, ok := env.Next()
	if !ok || d.Scalar != 1 {
		t.Fatalf("first Next() = %+v, %v", d, ok)
	}
	d, ok = env.Next()
	if !ok || d.Scalar != 2 {
		t.Fatalf("second Next() = %+v, %v", d, ok)
	}
	if _, ok := env.Next(); ok {
		t.Fatalf("Next() past end should report ok=false")
	}

	env.Reset()
	d, ok = env.Next()
	if !ok || d.Scalar != 1 {
		t.Fatalf("Next() after Reset() = %+v, %v", d, ok)
	}
}

func TestSlotSize(t *testing.T) {
	if got := slotSize(1024); got != 1024+slotOverhead {
		t.Fatalf("slotSize(1024) = %d, want %d", got, 1024+slotOverhead)
	}
}
