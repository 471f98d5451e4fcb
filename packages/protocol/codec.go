package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchema describes the outer shape of every frame body.
const envelopeSchema = `{
  "type": "object",
  "required": ["kind"],
  "properties": {
    "kind": {"type": "string", "minLength": 1},
    "payload": {"type": ["object", "null"]}
  }
}`

var envelope = mustSchema(envelopeSchema)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("protocol: invalid envelope schema: %v", err))
	}
	return schema
}

type wireEvent struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode returns the JSON body for ev.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, &ProtocolError{Reason: "nil event"}
	}

	w := wireEvent{Kind: ev.Kind()}
	switch ev := ev.(type) {
	case Quit:
	case Unknown:
		w.Payload = ev.Raw
	default:
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, &ProtocolError{Kind: ev.Kind(), Reason: "encode payload", Err: err}
		}
		w.Payload = payload
	}
	return json.Marshal(w)
}

// Decode parses one frame body into an Event. Kinds this package does not
// know decode into Unknown without error.
func Decode(data []byte) (Event, error) {
	if err := validateEnvelope(data); err != nil {
		return nil, err
	}

	kind := Kind(gjson.GetBytes(data, "kind").String())
	var payload []byte
	if raw := gjson.GetBytes(data, "payload"); raw.Exists() && raw.Type != gjson.Null {
		payload = []byte(raw.Raw)
	}

	switch kind {
	case KindProtocol:
		return decodeAs[Protocol](kind, payload)
	case KindCollectionFinish:
		return decodeAs[CollectionFinish](kind, payload)
	case KindStage:
		return decodeAs[Stage](kind, payload)
	case KindLogReport:
		return decodeAs[LogReport](kind, payload)
	case KindSessionFinish:
		return decodeAs[SessionFinish](kind, payload)
	case KindStdout:
		return decodeAs[Stdout](kind, payload)
	case KindError:
		return decodeAs[Error](kind, payload)
	case KindQuit:
		return Quit{}, nil
	default:
		return Unknown{Name: kind, Raw: payload}, nil
	}
}

func validateEnvelope(data []byte) error {
	result, err := envelope.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return &ProtocolError{Reason: "malformed frame", Err: err}
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &ProtocolError{Reason: "invalid frame: " + strings.Join(problems, "; ")}
}

type validator interface {
	validate() error
}

func decodeAs[T Event](kind Kind, payload []byte) (Event, error) {
	var ev T
	if len(payload) == 0 {
		return nil, &ProtocolError{Kind: kind, Reason: "missing payload"}
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, &ProtocolError{Kind: kind, Reason: "malformed payload", Err: err}
	}
	if v, ok := any(ev).(validator); ok {
		if err := v.validate(); err != nil {
			return nil, &ProtocolError{Kind: kind, Reason: "invalid payload", Err: err}
		}
	}
	return ev, nil
}
