package protocol

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// MaxFrameSize is the largest frame accepted from a server.
const MaxFrameSize = 512 * 1024

// FrameKind identifies what a frame carries.
type FrameKind byte

const (
	FrameInit       FrameKind = 1 // client hello with app id and optional token
	FrameOperation  FrameKind = 2 // client operation request
	FrameResponse   FrameKind = 3 // server operation response
	FrameEvent      FrameKind = 4 // server event
	FrameDisconnect FrameKind = 5 // server-initiated disconnect, Code holds the reason
)

// Server disconnect reasons carried in a FrameDisconnect.
const (
	DisconnectReasonUnknown   byte = 0
	DisconnectReasonTimeout   byte = 1
	DisconnectReasonUserLimit byte = 2
	DisconnectReasonLogic     byte = 3
)

// Frame is the unit exchanged over the websocket transport.
type Frame struct {
	Kind         FrameKind `codec:"k"`
	Code         byte      `codec:"c"`
	ReturnCode   int16     `codec:"r,omitempty"`
	DebugMessage string    `codec:"m,omitempty"`
	Params       Params    `codec:"p,omitempty"`
	Sealed       []byte    `codec:"s,omitempty"`
}

// Codec encodes and decodes frames with msgpack. It is safe for concurrent use.
type Codec struct {
	handle *codec.MsgpackHandle
}

// NewCodec creates a msgpack codec configured for parameter maps.
func NewCodec() *Codec {
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	h.WriteExt = true
	h.SignedInteger = true
	h.MapType = reflect.TypeOf(map[interface{}]interface{}(nil))
	return &Codec{handle: h}
}

// EncodeFrame serializes a frame.
func (c *Codec) EncodeFrame(f *Frame) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, c.handle).Encode(f); err != nil {
		return nil, fmt.Errorf("failed to encode frame kind %d code %d: %w", f.Kind, f.Code, err)
	}
	return out, nil
}

// DecodeFrame parses a frame.
func (c *Codec) DecodeFrame(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes (max %d)", len(data), MaxFrameSize)
	}

	f := &Frame{}
	if err := codec.NewDecoderBytes(data, c.handle).Decode(f); err != nil {
		return nil, fmt.Errorf("failed to decode frame (%d bytes): %w", len(data), err)
	}
	return f, nil
}

// EncodeParams serializes a parameter map on its own, used for sealed payloads.
func (c *Codec) EncodeParams(p Params) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, c.handle).Encode(p); err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}
	return out, nil
}

// DecodeParams parses a parameter map produced by EncodeParams.
func (c *Codec) DecodeParams(data []byte) (Params, error) {
	p := Params{}
	if err := codec.NewDecoderBytes(data, c.handle).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode params: %w", err)
	}
	return p, nil
}

// Response converts a response frame into an OperationResponse.
func (f *Frame) Response() *OperationResponse {
	return &OperationResponse{
		OperationCode: f.Code,
		ReturnCode:    ErrorCode(f.ReturnCode),
		DebugMessage:  f.DebugMessage,
		Parameters:    f.Params,
	}
}

// Event converts an event frame into EventData.
func (f *Frame) Event() *EventData {
	return &EventData{
		Code:       f.Code,
		Parameters: f.Params,
	}
}
