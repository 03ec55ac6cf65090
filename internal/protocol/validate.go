package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/samber/oops"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var messageSchemas = map[string]string{
	TypeHello:  "hello",
	TypeSub:    "sub",
	TypeUnsub:  "unsub",
	TypeMethod: "method",
}

var methodSchemas = []string{
	MethodCreateLevel,
	MethodUpdateLevel,
	MethodToggleLevelEditionPermission,
	MethodIncreaseLevelVisits,
}

// Validator checks client messages and method params against the embedded
// JSON schemas.
type Validator struct {
	messages map[string]*jsonschema.Schema
	methods  map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7

	compile := func(name string) (*jsonschema.Schema, error) {
		file := name + ".schema.json"
		b, err := schemaFS.ReadFile("schemas/" + file)
		if err != nil {
			return nil, err
		}
		url := file
		if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
			return nil, oops.Wrapf(err, "add schema %s", file)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, oops.Wrapf(err, "compile schema %s", file)
		}
		return s, nil
	}

	v := &Validator{
		messages: map[string]*jsonschema.Schema{},
		methods:  map[string]*jsonschema.Schema{},
	}
	for typ, name := range messageSchemas {
		s, err := compile(name)
		if err != nil {
			return nil, err
		}
		v.messages[typ] = s
	}
	for _, name := range methodSchemas {
		s, err := compile(name)
		if err != nil {
			return nil, err
		}
		v.methods[name] = s
	}
	return v, nil
}

// ValidateMessage checks a raw client message of the given type.
func (v *Validator) ValidateMessage(typ string, raw []byte) error {
	s, ok := v.messages[typ]
	if !ok {
		return &ProtoError{Code: ErrProtoBadRequest, Message: fmt.Sprintf("unsupported message type %q", typ)}
	}
	return validate(s, raw)
}

// ValidateParams checks the params of a method call. Missing params are
// treated as an empty array.
func (v *Validator) ValidateParams(method string, params json.RawMessage) error {
	s, ok := v.methods[method]
	if !ok {
		return &ProtoError{Code: ErrUnknownMethod, Message: fmt.Sprintf("method %q not found", method)}
	}
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage("[]")
	}
	return validate(s, params)
}

func validate(s *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ProtoError{Code: ErrProtoBadRequest, Message: "invalid json"}
	}
	if err := s.Validate(doc); err != nil {
		return &ProtoError{Code: ErrBadRequest, Message: err.Error()}
	}
	return nil
}
