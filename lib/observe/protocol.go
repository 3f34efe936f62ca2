// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/spcs-instruments/pfex/lib/codec"
	"github.com/spcs-instruments/pfex/lib/runstate"
)

// Message types on the observation stream. All are server to viewer.
const (
	MessageTypeHello    byte = 0x01
	MessageTypeSnapshot byte = 0x02
	MessageTypeLine     byte = 0x03
	MessageTypeEnd      byte = 0x04
)

// messageHeaderLength is 1 byte type + 4 bytes payload length.
const messageHeaderLength = 5

// maxPayloadLength bounds one frame. A snapshot of a few dozen devices
// at the default truncation is a few hundred kilobytes.
const maxPayloadLength = 16 * 1024 * 1024

// Message is one framed message.
type Message struct {
	Type    byte
	Payload []byte
}

// WriteMessage writes [type] [length, big-endian uint32] [payload].
func WriteMessage(w io.Writer, message Message) error {
	if len(message.Payload) > maxPayloadLength {
		return fmt.Errorf("payload length %d exceeds maximum %d", len(message.Payload), maxPayloadLength)
	}
	frame := make([]byte, messageHeaderLength, messageHeaderLength+len(message.Payload))
	frame[0] = message.Type
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(message.Payload)))
	frame = append(frame, message.Payload...)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var header [messageHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, fmt.Errorf("read message header: %w", err)
	}
	payloadLength := binary.BigEndian.Uint32(header[1:5])
	if payloadLength > maxPayloadLength {
		return Message{}, fmt.Errorf("payload length %d exceeds maximum %d", payloadLength, maxPayloadLength)
	}
	payload := make([]byte, payloadLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("read message payload: %w", err)
	}
	return Message{Type: header[0], Payload: payload}, nil
}

// Frame is a decoded observation message: *Hello, *Snapshot, *LineEvent
// or *End.
type Frame interface {
	messageType() byte
}

// Hello opens a stream.
type Hello struct {
	RunID string `cbor:"run_id"`

	// Iteration counts from 1 within one pfex invocation.
	Iteration int `cbor:"iteration"`

	IngestAddress string `cbor:"ingest_address"`
	StartedMillis int64  `cbor:"started_ms"`
	MaxPoints     int    `cbor:"max_points"`
}

// DeviceSummary mirrors runstate.DeviceSummary.
type DeviceSummary struct {
	Name        string  `cbor:"name"`
	Points      int     `cbor:"points"`
	Measurement string  `cbor:"measurement,omitempty"`
	LatestValue float64 `cbor:"latest"`
}

// Snapshot is the display view of the run at one instant.
type Snapshot struct {
	Sequence   uint64 `cbor:"seq"`
	TimeMillis int64  `cbor:"time_ms"`

	// Experiment is the experiment name; empty until a descriptor
	// arrives.
	Experiment string `cbor:"experiment,omitempty"`

	Devices []DeviceSummary     `cbor:"devices"`
	Latest  runstate.Projection `cbor:"latest"`
	Dropped uint64              `cbor:"dropped"`
}

// LineEvent reports one accepted instrument line.
type LineEvent struct {
	Sequence       uint64 `cbor:"seq"`
	Kind           string `cbor:"kind"`
	Name           string `cbor:"name"`
	Size           int    `cbor:"size"`
	ReceivedMillis int64  `cbor:"received_ms"`
}

// End closes a stream.
type End struct {
	Reason string `cbor:"reason"`
}

func (*Hello) messageType() byte     { return MessageTypeHello }
func (*Snapshot) messageType() byte  { return MessageTypeSnapshot }
func (*LineEvent) messageType() byte { return MessageTypeLine }
func (*End) messageType() byte       { return MessageTypeEnd }

// EncodeFrame encodes frame into a message.
func EncodeFrame(frame Frame) (Message, error) {
	payload, err := codec.Marshal(frame)
	if err != nil {
		return Message{}, fmt.Errorf("encoding frame 0x%02x: %w", frame.messageType(), err)
	}
	return Message{Type: frame.messageType(), Payload: payload}, nil
}

// DecodeFrame decodes message. Unknown types are an error.
func DecodeFrame(message Message) (Frame, error) {
	var frame Frame
	switch message.Type {
	case MessageTypeHello:
		frame = &Hello{}
	case MessageTypeSnapshot:
		frame = &Snapshot{}
	case MessageTypeLine:
		frame = &LineEvent{}
	case MessageTypeEnd:
		frame = &End{}
	default:
		return nil, fmt.Errorf("unknown message type 0x%02x", message.Type)
	}
	if err := codec.Unmarshal(message.Payload, frame); err != nil {
		return nil, fmt.Errorf("decoding frame 0x%02x: %w", message.Type, err)
	}
	return frame, nil
}
