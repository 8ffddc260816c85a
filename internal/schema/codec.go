package schema

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"

	apperrors "github.com/shhac/grpcsim/internal/errors"
)

// Normalization controls how messages are bridged to and from JSON values.
// The zero value gives lowerCamelCase field names, enum names, 64-bit
// integers as decimal strings, populated defaults and oneof members
// flattened into their parent object.
type Normalization struct {
	KeepCase       bool `mapstructure:"keep_case"`
	EnumsAsNumbers bool `mapstructure:"enums_as_numbers"`
	OmitDefaults   bool `mapstructure:"omit_defaults"`
}

// jsonAPI keeps numbers as json.Number so 64-bit values survive the bridge.
var jsonAPI = sonic.Config{
	UseNumber:   true,
	SortMapKeys: true,
}.Froze()

// EncodeFunc converts a decoded JSON value into a request message.
type EncodeFunc func(payload any) (*dynamic.Message, error)

// DecodeFunc converts a response message into a JSON value.
type DecodeFunc func(msg proto.Message) (any, error)

func (n Normalization) marshaler() *jsonpb.Marshaler {
	return &jsonpb.Marshaler{
		OrigName:     n.KeepCase,
		EnumsAsInts:  n.EnumsAsNumbers,
		EmitDefaults: !n.OmitDefaults,
	}
}

// newEncoder returns the encode function for one message type.
func newEncoder(md *desc.MessageDescriptor) EncodeFunc {
	// Unknown fields are rejected so payload typos surface before dispatch.
	um := &jsonpb.Unmarshaler{}
	return func(payload any) (*dynamic.Message, error) {
		if payload == nil {
			payload = map[string]any{}
		}
		raw, err := jsonAPI.Marshal(payload)
		if err != nil {
			return nil, &apperrors.Failure{
				Kind:    apperrors.KindInvalidPayload,
				Message: fmt.Sprintf("payload is not JSON-encodable: %v", err),
				Err:     err,
			}
		}

		msg := dynamic.NewMessage(md)
		if err := msg.UnmarshalJSONPB(um, raw); err != nil {
			return nil, &apperrors.Failure{
				Kind:    apperrors.KindInvalidPayload,
				Message: fmt.Sprintf("payload does not match %s: %v", md.GetFullyQualifiedName(), err),
				Err:     err,
			}
		}
		return msg, nil
	}
}

// newDecoder returns the decode function for one message type.
func newDecoder(n Normalization) DecodeFunc {
	m := n.marshaler()
	return func(msg proto.Message) (any, error) {
		return decodeMessage(msg, m)
	}
}

func decodeMessage(msg proto.Message, m *jsonpb.Marshaler) (any, error) {
	dm, err := dynamic.AsDynamicMessage(msg)
	if err != nil {
		return nil, &apperrors.Failure{
			Kind:    apperrors.KindDecode,
			Message: fmt.Sprintf("response is not a schema message: %v", err),
			Err:     err,
		}
	}

	raw, err := dm.MarshalJSONPB(m)
	if err != nil {
		return nil, &apperrors.Failure{
			Kind:    apperrors.KindDecode,
			Message: fmt.Sprintf("format %s: %v", dm.GetMessageDescriptor().GetFullyQualifiedName(), err),
			Err:     err,
		}
	}

	var out any
	if err := jsonAPI.Unmarshal(raw, &out); err != nil {
		return nil, &apperrors.Failure{
			Kind:    apperrors.KindDecode,
			Message: fmt.Sprintf("re-read formatted response: %v", err),
			Err:     err,
		}
	}
	return out, nil
}

// MarshalIndent renders a decoded value as indented JSON with sorted keys.
func MarshalIndent(v any) ([]byte, error) {
	return jsonAPI.MarshalIndent(v, "", "  ")
}

// UnmarshalJSON decodes raw JSON into a JSON value, keeping numbers exact.
func UnmarshalJSON(raw []byte) (any, error) {
	var out any
	if err := jsonAPI.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
