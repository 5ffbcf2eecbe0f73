package sink

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"flockwatch/internal/model"
)

// Envelope payload types.
const (
	PayloadWiFi uint64 = 1
	PayloadBLE  uint64 = 2
)

// Envelope field numbers.
const (
	fieldFrameID     protowire.Number = 1
	fieldPayloadType protowire.Number = 2
	fieldPayload     protowire.Number = 3
)

const maxFrameSize = 1 << 20

var ErrFrameTooLarge = errors.New("protobuf frame exceeds size limit")

// Protobuf writes each detection as a google.protobuf.Struct wrapped in an
// envelope {frame_id, payload_type, payload}, preceded by the envelope's
// length as a varint.
type Protobuf struct {
	mu      sync.Mutex
	w       io.WriteCloser
	frameID uint32
}

func NewProtobuf(w io.WriteCloser) *Protobuf {
	return &Protobuf{w: w}
}

func (p *Protobuf) Write(_ context.Context, det model.Detection) error {
	payload, err := EncodeDetection(det)
	if err != nil {
		return err
	}
	typ := PayloadWiFi
	if det.Protocol == model.ProtocolBLE {
		typ = PayloadBLE
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	frame := AppendFrame(nil, p.frameID, typ, payload)
	p.frameID++
	_, err = p.w.Write(frame)
	return err
}

func (p *Protobuf) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.Close()
}

// EncodeDetection marshals det through its JSON field names into a Struct.
func EncodeDetection(det model.Detection) ([]byte, error) {
	raw, err := json.Marshal(det)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(st)
}

func AppendFrame(dst []byte, frameID uint32, payloadType uint64, payload []byte) []byte {
	var env []byte
	env = protowire.AppendTag(env, fieldFrameID, protowire.VarintType)
	env = protowire.AppendVarint(env, uint64(frameID))
	env = protowire.AppendTag(env, fieldPayloadType, protowire.VarintType)
	env = protowire.AppendVarint(env, payloadType)
	env = protowire.AppendTag(env, fieldPayload, protowire.BytesType)
	env = protowire.AppendBytes(env, payload)

	dst = protowire.AppendVarint(dst, uint64(len(env)))
	return append(dst, env...)
}

type Frame struct {
	FrameID     uint32
	PayloadType uint64
	Payload     *structpb.Struct
}

// ReadFrame reads one length-prefixed envelope. Unknown envelope fields are
// skipped.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return Frame{}, err
	}
	if n > maxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Frame{}, err
	}
	var f Frame
	var payload []byte
	for len(buf) > 0 {
		num, typ, tn := protowire.ConsumeTag(buf)
		if tn < 0 {
			return Frame{}, protowire.ParseError(tn)
		}
		buf = buf[tn:]
		switch {
		case num == fieldFrameID && typ == protowire.VarintType:
			v, vn := protowire.ConsumeVarint(buf)
			if vn < 0 {
				return Frame{}, protowire.ParseError(vn)
			}
			f.FrameID = uint32(v)
			buf = buf[vn:]
		case num == fieldPayloadType && typ == protowire.VarintType:
			v, vn := protowire.ConsumeVarint(buf)
			if vn < 0 {
				return Frame{}, protowire.ParseError(vn)
			}
			f.PayloadType = v
			buf = buf[vn:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(buf)
			if vn < 0 {
				return Frame{}, protowire.ParseError(vn)
			}
			payload = v
			buf = buf[vn:]
		default:
			vn := protowire.ConsumeFieldValue(num, typ, buf)
			if vn < 0 {
				return Frame{}, protowire.ParseError(vn)
			}
			buf = buf[vn:]
		}
	}
	f.Payload = &structpb.Struct{}
	if err := proto.Unmarshal(payload, f.Payload); err != nil {
		return Frame{}, fmt.Errorf("decode payload: %w", err)
	}
	return f, nil
}
