package allocation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	FACT_KIND        = "kind"
	FACT_SHIPMENT_ID = "shipment_id"
)

var ErrInvalidContext = errors.New("invalid shipment context")

// ShipmentContext is the read-only fact map of one shipment. The facts are kept as
// an immutable JSON document; every mutation returns a new context.
type ShipmentContext struct {
	facts []byte
}

// NewContext builds a context of the given kind from a map, a struct or raw JSON.
func NewContext(kind Scope, facts interface{}) (*ShipmentContext, error) {
	var doc []byte
	switch v := facts.(type) {
	case nil:
		doc = []byte("{}")
	case []byte:
		doc = append([]byte(nil), v...)
	case json.RawMessage:
		doc = append([]byte(nil), v...)
	case string:
		doc = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidContext, err)
		}
		doc = b
	}
	if !gjson.ValidBytes(doc) || !gjson.ParseBytes(doc).IsObject() {
		return nil, fmt.Errorf("%w: facts must be a JSON object", ErrInvalidContext)
	}
	if kind != "" {
		var err error
		doc, err = sjson.SetBytes(doc, FACT_KIND, string(kind))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidContext, err)
		}
	}
	return &ShipmentContext{facts: doc}, nil
}

// ParseContext reads a context from a JSON object carrying its own "kind" fact.
func ParseContext(data []byte) (*ShipmentContext, error) {
	return NewContext("", data)
}

// MustContext is NewContext for literals known to be valid, mostly tests.
func MustContext(kind Scope, facts map[string]interface{}) *ShipmentContext {
	sc, err := NewContext(kind, facts)
	if err != nil {
		panic(err)
	}
	return sc
}

func (sc *ShipmentContext) Kind() Scope {
	return Scope(gjson.GetBytes(sc.facts, FACT_KIND).String())
}

func (sc *ShipmentContext) ShipmentID() string {
	return gjson.GetBytes(sc.facts, FACT_SHIPMENT_ID).String()
}

// Get looks a field up by its canonical name.
func (sc *ShipmentContext) Get(field Field) gjson.Result {
	return gjson.GetBytes(sc.facts, string(field.Canonical()))
}

func (sc *ShipmentContext) Has(field Field) bool {
	r := sc.Get(field)
	return r.Exists() && r.Type != gjson.Null
}

// With returns a copy of the context with one more fact set.
func (sc *ShipmentContext) With(path string, value interface{}) (*ShipmentContext, error) {
	doc, err := sjson.SetBytes(append([]byte(nil), sc.facts...), path, value)
	if err != nil {
		return nil, err
	}
	return &ShipmentContext{facts: doc}, nil
}

func (sc *ShipmentContext) Map() map[string]interface{} {
	res, ok := gjson.ParseBytes(sc.facts).Value().(map[string]interface{})
	if !ok {
		return nil
	}
	return res
}

func (sc *ShipmentContext) MarshalJSON() ([]byte, error) {
	return append([]byte(nil), sc.facts...), nil
}

func (sc *ShipmentContext) UnmarshalJSON(data []byte) error {
	parsed, err := ParseContext(data)
	if err != nil {
		return err
	}
	sc.facts = parsed.facts
	return nil
}

func (sc *ShipmentContext) String() string {
	return string(sc.facts)
}
