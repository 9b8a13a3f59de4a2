// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/tracebuffer/lib/codec"
	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

// Frame layout, all integers big-endian:
//
//	[0:4]   uint32  length of everything after this field
//	[4]     uint8   format version (1)
//	[5]     uint8   unit kind (0 = hello)
//	[6]     uint8   compression tag
//	[7:11]  uint32  uncompressed payload size
//	[11:43] [32]    BLAKE3 digest of the uncompressed payload
//	[43:]           payload
//
// The payload is the CBOR encoding of the unit. The digest covers the
// uncompressed bytes so that it also checks the decompressor.
const (
	frameVersion     = 1
	lengthFieldSize  = 4
	frameHeaderSize  = 1 + 1 + 1 + 4 + DigestSize
	frameOverhead    = lengthFieldSize + frameHeaderSize
	helloKind        = trace.Kind(0)
	digestFieldStart = lengthFieldSize + 7
)

// DigestSize is the length of a payload digest.
const DigestSize = 32

// Digest is a BLAKE3 keyed hash of a frame payload.
type Digest [DigestSize]byte

// payloadDomainKey separates frame digests from any other BLAKE3 use
// of the same bytes.
var payloadDomainKey = [32]byte{
	't', 'r', 'a', 'c', 'e', 'b', 'u', 'f', 'f', 'e', 'r', '.', 'f', 'r', 'a', 'm',
	'e', '.', 'p', 'a', 'y', 'l', 'o', 'a', 'd', 0, 0, 0, 0, 0, 0, 0,
}

// ErrFrameTooLarge is returned when a frame exceeds the configured
// maximum, on either side of the stream.
var ErrFrameTooLarge = errors.New("transport: frame too large")

// ErrChecksumMismatch is returned when a payload does not match its
// digest.
var ErrChecksumMismatch = errors.New("transport: payload checksum mismatch")

// Frame is a decoded frame with its payload already decompressed and
// verified.
type Frame struct {
	Kind        trace.Kind
	Compression CompressionTag
	Digest      Digest
	Payload     []byte
}

// Hello is the first frame on every connection.
type Hello struct {
	Agent   trace.Agent `cbor:"agent"`
	Version string      `cbor:"version"`
}

func hashPayload(payload []byte) Digest {
	hasher, err := blake3.NewKeyed(payloadDomainKey[:])
	if err != nil {
		panic("transport: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// EncodeUnit encodes unit into one frame. Returns ErrFrameTooLarge
// if the frame would exceed maxFrameBytes.
func EncodeUnit(unit trace.Unit, tag CompressionTag, maxFrameBytes int) ([]byte, error) {
	payload, err := codec.Marshal(unit)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", unit.Kind(), err)
	}
	return encodeFrame(unit.Kind(), payload, tag, maxFrameBytes)
}

// EncodeHello encodes the connection handshake frame.
func EncodeHello(hello Hello) ([]byte, error) {
	payload, err := codec.Marshal(hello)
	if err != nil {
		return nil, fmt.Errorf("encoding hello: %w", err)
	}
	return encodeFrame(helloKind, payload, CompressionNone, 0)
}

func encodeFrame(kind trace.Kind, payload []byte, tag CompressionTag, maxFrameBytes int) ([]byte, error) {
	body, applied, err := compress(payload, tag)
	if err != nil {
		return nil, err
	}
	total := frameOverhead + len(body)
	if maxFrameBytes > 0 && total > maxFrameBytes {
		return nil, fmt.Errorf("%w: %d bytes (%s, %d uncompressed), limit %d",
			ErrFrameTooLarge, total, kind, len(payload), maxFrameBytes)
	}

	frame := make([]byte, total)
	binary.BigEndian.PutUint32(frame[0:4], uint32(total-lengthFieldSize))
	frame[4] = frameVersion
	frame[5] = byte(kind)
	frame[6] = byte(applied)
	binary.BigEndian.PutUint32(frame[7:11], uint32(len(payload)))
	digest := hashPayload(payload)
	copy(frame[digestFieldStart:], digest[:])
	copy(frame[frameOverhead:], body)
	return frame, nil
}

// ReadFrame reads one frame from r, decompresses it and verifies its
// digest. A maxFrameBytes of zero means no limit. Returns io.EOF only
// at a clean frame boundary.
func ReadFrame(r io.Reader, maxFrameBytes int) (Frame, error) {
	var lengthField [lengthFieldSize]byte
	if _, err := io.ReadFull(r, lengthField[:]); err != nil {
		return Frame{}, err
	}
	length := int(binary.BigEndian.Uint32(lengthField[:]))
	if length < frameHeaderSize {
		return Frame{}, fmt.Errorf("transport: frame length %d shorter than header", length)
	}
	if maxFrameBytes > 0 && length+lengthFieldSize > maxFrameBytes {
		return Frame{}, fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, length+lengthFieldSize, maxFrameBytes)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("transport: reading frame body: %w", io.ErrUnexpectedEOF)
	}
	return decodeBody(body, maxFrameBytes)
}

// DecodeFrame decodes one complete frame held in data.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < frameOverhead {
		return Frame{}, fmt.Errorf("transport: frame of %d bytes shorter than header", len(data))
	}
	length := int(binary.BigEndian.Uint32(data[0:4]))
	if length != len(data)-lengthFieldSize {
		return Frame{}, fmt.Errorf("transport: frame length field %d does not match %d bytes", length, len(data)-lengthFieldSize)
	}
	return decodeBody(data[lengthFieldSize:], 0)
}

func decodeBody(body []byte, maxFrameBytes int) (Frame, error) {
	if body[0] != frameVersion {
		return Frame{}, fmt.Errorf("transport: unsupported frame version %d", body[0])
	}
	frame := Frame{
		Kind:        trace.Kind(body[1]),
		Compression: CompressionTag(body[2]),
	}
	size := int(binary.BigEndian.Uint32(body[3:7]))
	if maxFrameBytes > 0 && size > 64*maxFrameBytes {
		return Frame{}, fmt.Errorf("%w: %d bytes uncompressed", ErrFrameTooLarge, size)
	}
	copy(frame.Digest[:], body[7:frameHeaderSize])

	payload, err := decompress(body[frameHeaderSize:], frame.Compression, size)
	if err != nil {
		return Frame{}, err
	}
	if hashPayload(payload) != frame.Digest {
		return Frame{}, ErrChecksumMismatch
	}
	frame.Payload = payload
	return frame, nil
}

// DecodeUnit decodes a unit frame's payload.
func DecodeUnit(frame Frame) (trace.Unit, error) {
	unit, err := trace.NewUnit(frame.Kind)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	if err := codec.Unmarshal(frame.Payload, unit); err != nil {
		return nil, fmt.Errorf("transport: decoding %s: %w", frame.Kind, err)
	}
	return unit, nil
}

// DecodeHello decodes a hello frame's payload.
func DecodeHello(frame Frame) (Hello, error) {
	if frame.Kind != helloKind {
		return Hello{}, fmt.Errorf("transport: expected hello frame, got %s", frame.Kind)
	}
	var hello Hello
	if err := codec.Unmarshal(frame.Payload, &hello); err != nil {
		return Hello{}, fmt.Errorf("transport: decoding hello: %w", err)
	}
	return hello, nil
}
