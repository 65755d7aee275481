package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vanshika/flashback/internal/store"
)

// ErrMalformedPayload indicates a request body that does not fit the entity schema.
var ErrMalformedPayload = errors.New("malformed payload")

// FieldKind is the JSON type a schema field must carry.
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindBool
)

func (k FieldKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	default:
		return "string"
	}
}

// Field describes one known payload field. Fields not listed in a schema are kept verbatim.
type Field struct {
	Name        string
	Kind        FieldKind
	Required    bool
	NonNegative bool
}

// Schema is the per-entity payload contract.
type Schema struct {
	Fields   []Field
	Defaults map[string]any
}

// ParsePayload decodes a JSON object body.
func ParsePayload(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: request body is required", ErrMalformedPayload)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrMalformedPayload)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrMalformedPayload)
	}
	return payload, nil
}

// Validate checks payload against the schema and returns the record to store,
// with defaults applied for absent optional fields.
func (s Schema) Validate(payload map[string]any) (store.Record, error) {
	if _, ok := payload[store.IDField]; ok {
		return nil, fmt.Errorf("%w: %s is assigned by the store", ErrMalformedPayload, store.IDField)
	}

	for _, f := range s.Fields {
		v, ok := payload[f.Name]
		if !ok || v == nil {
			if f.Required {
				return nil, fmt.Errorf("%w: %s is required", ErrMalformedPayload, f.Name)
			}
			continue
		}
		if err := f.check(v); err != nil {
			return nil, err
		}
	}

	rec := make(store.Record, len(payload)+len(s.Defaults))
	for k, v := range s.Defaults {
		rec[k] = v
	}
	for k, v := range payload {
		if v == nil {
			if _, hasDefault := s.Defaults[k]; hasDefault {
				continue
			}
		}
		rec[k] = v
	}
	return rec, nil
}

func (f Field) check(v any) error {
	switch f.Kind {
	case KindString:
		str, ok := v.(string)
		if !ok {
			return f.typeError()
		}
		if f.Required && strings.TrimSpace(str) == "" {
			return fmt.Errorf("%w: %s must not be empty", ErrMalformedPayload, f.Name)
		}
	case KindNumber:
		n, ok := v.(float64)
		if !ok {
			return f.typeError()
		}
		if f.NonNegative && n < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrMalformedPayload, f.Name)
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return f.typeError()
		}
	}
	return nil
}

func (f Field) typeError() error {
	return fmt.Errorf("%w: %s must be a %s", ErrMalformedPayload, f.Name, f.Kind)
}
