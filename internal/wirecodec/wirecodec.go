// Package wirecodec defines the peer-to-peer message envelope and
// payload types the downloader exchanges with remote nodes, and a codec
// to serialize them. spec.md §6 names the wire codec as an external
// collaborator out of scope for this module's semantics; this package
// supplies a concrete one so the downloader is runnable end to end
// (SPEC_FULL.md §6). It deliberately does not reproduce the original's
// levin/protobuf wire format — see DESIGN.md for why gob was chosen
// instead of fabricating protobuf bindings that cannot be generated here.
package wirecodec

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/jetcash/jetcash/internal/blockhash"
)

// Command identifies the payload carried by an Envelope.
type Command uint8

const (
	CmdRequestChain Command = iota + 1
	CmdResponseChain
	CmdRequestGetObjects
	CmdResponseGetObjects
	CmdTimedSync
)

// Envelope is the outermost frame sent between peers.
type Envelope struct {
	Command Command
	Payload []byte
}

// RequestChain asks the peer for ids following locator (spec.md §4.2).
type RequestChain struct {
	BlockIDs []blockhash.Hash
}

// ResponseChain is the peer's answer: StartHeight is the height of
// BlockIDs[0], and BlockIDs is ordered ascending by height.
type ResponseChain struct {
	StartHeight uint64
	BlockIDs    []blockhash.Hash
}

// RequestGetObjects asks the peer for one block by id.
type RequestGetObjects struct {
	BlockID blockhash.Hash
}

// ResponseGetObjects carries raw, still-undecoded blocks.
type ResponseGetObjects struct {
	Blocks []RawBlockWire
}

// RawBlockWire mirrors blocksync.RawBlock without importing it, keeping
// this package independent of the downloader's internal types.
type RawBlockWire struct {
	Block        []byte
	Transactions [][]byte
}

// TimedSync is the periodic CORE_SYNC_DATA heartbeat.
type TimedSync struct {
	TopID         blockhash.Hash
	CurrentHeight uint64
}

// Codec encodes and decodes Envelopes and their typed payloads using
// encoding/gob.
type Codec struct{}

// NewCodec returns a ready-to-use Codec; it holds no state.
func NewCodec() Codec { return Codec{} }

func (Codec) encodePayload(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("wirecodec: encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

func (c Codec) EncodeRequestChain(m RequestChain) ([]byte, error) {
	return c.encodeEnvelope(CmdRequestChain, m)
}

func (c Codec) EncodeResponseChain(m ResponseChain) ([]byte, error) {
	return c.encodeEnvelope(CmdResponseChain, m)
}

func (c Codec) EncodeRequestGetObjects(m RequestGetObjects) ([]byte, error) {
	return c.encodeEnvelope(CmdRequestGetObjects, m)
}

func (c Codec) EncodeResponseGetObjects(m ResponseGetObjects) ([]byte, error) {
	return c.encodeEnvelope(CmdResponseGetObjects, m)
}

func (c Codec) EncodeTimedSync(m TimedSync) ([]byte, error) {
	return c.encodeEnvelope(CmdTimedSync, m)
}

func (c Codec) encodeEnvelope(cmd Command, payload interface{}) ([]byte, error) {
	p, err := c.encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return c.encodePayload(Envelope{Command: cmd, Payload: p})
}

// DecodeEnvelope reads the outer frame only; callers then dispatch on
// Command and call the matching Decode* below.
func (Codec) DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("wirecodec: decode envelope: %w", err)
	}
	return env, nil
}

func decodePayload[T any](b []byte) (T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		return v, fmt.Errorf("wirecodec: decode payload: %w", err)
	}
	return v, nil
}

func (Codec) DecodeRequestChain(b []byte) (RequestChain, error)       { return decodePayload[RequestChain](b) }
func (Codec) DecodeResponseChain(b []byte) (ResponseChain, error)     { return decodePayload[ResponseChain](b) }
func (Codec) DecodeRequestGetObjects(b []byte) (RequestGetObjects, error) {
	return decodePayload[RequestGetObjects](b)
}
func (Codec) DecodeResponseGetObjects(b []byte) (ResponseGetObjects, error) {
	return decodePayload[ResponseGetObjects](b)
}
func (Codec) DecodeTimedSync(b []byte) (TimedSync, error) { return decodePayload[TimedSync](b) }
