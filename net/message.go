/*
Copyright 2017 Mosaic Networks Ltd

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package net implements the framed wire protocol and connection
// manager from spec.md sections 4.5-4.7 and 6: typed messages over a
// length-prefixed stream, the missing-data pull protocol, and the
// challenge-response trust handshake.
package net

import (
	"encoding/binary"
	"io"

	"github.com/mosaicnetworks/consilium/cell"
)

// Type is the message kind, the frame's first byte (spec.md section 6).
type Type byte

const (
	TypeBelief Type = iota + 1
	TypeChallenge
	TypeCommand // left unimplemented per spec.md section 9; dispatch is a documented no-op.
	TypeData
	TypeMissingData
	TypeQuery
	TypeResponse
	TypeResult
	TypeTransact
	TypeGoodbye
	TypeStatus
)

func (t Type) String() string {
	switch t {
	case TypeBelief:
		return "BELIEF"
	case TypeChallenge:
		return "CHALLENGE"
	case TypeCommand:
		return "COMMAND"
	case TypeData:
		return "DATA"
	case TypeMissingData:
		return "MISSING_DATA"
	case TypeQuery:
		return "QUERY"
	case TypeResponse:
		return "RESPONSE"
	case TypeResult:
		return "RESULT"
	case TypeTransact:
		return "TRANSACT"
	case TypeGoodbye:
		return "GOODBYE"
	case TypeStatus:
		return "STATUS"
	default:
		return "UNKNOWN"
	}
}

// maxFrameSize bounds a single frame; larger frames close the connection
// (spec.md section 6, "oversize frames close the connection").
const maxFrameSize = 16 << 20

// Message is one frame: a type byte, a sender-chosen message id cell and
// a payload cell (spec.md section 6: "type-byte | message-id (cell) |
// payload (cell)").
type Message struct {
	Type    Type
	ID      cell.Cell
	Payload cell.Cell
}

// WriteFrame writes one length-prefixed frame for m to w.
func WriteFrame(w io.Writer, m Message) error {
	body := make([]byte, 0, 64)
	body = append(body, byte(m.Type))
	body = m.ID.Encode(body)
	body = m.Payload.Encode(body)
	if len(body) > maxFrameSize {
		return cell.BadFormatf("frame of %d bytes exceeds maximum %d", len(body), maxFrameSize)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || int(n) > maxFrameSize {
		return Message{}, cell.BadFormatf("frame length %d out of bounds", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, err
	}
	if len(body) < 1 {
		return Message{}, cell.BadFormatf("empty frame body")
	}
	typ := Type(body[0])
	rest := body[1:]
	id, rest, err := decodeCell(rest)
	if err != nil {
		return Message{}, err
	}
	payload, rest, err := decodeCell(rest)
	if err != nil {
		return Message{}, err
	}
	if len(rest) != 0 {
		return Message{}, cell.BadFormatf("trailing bytes after frame payload")
	}
	return Message{Type: typ, ID: id, Payload: payload}, nil
}

// decodeCell decodes one cell from the front of data, returning the
// unconsumed remainder: a frame packs two cells back to back, so unlike
// cell.Decode this does not require the whole slice to be consumed.
func decodeCell(data []byte) (cell.Cell, []byte, error) {
	return cell.DecodeOne(data)
}
