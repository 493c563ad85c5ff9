package allocation

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/parse"
)

type Field string

const (
	FIELD_WEIGHT_KG        Field = "weight_kg"
	FIELD_VALUE_INR        Field = "value_inr"
	FIELD_ORIGIN_ZONE      Field = "origin_zone"
	FIELD_DESTINATION_ZONE Field = "destination_zone"
	FIELD_PINCODE          Field = "pincode"
	FIELD_CHANNEL          Field = "channel"
	FIELD_PAYMENT_MODE     Field = "payment_mode"
	FIELD_PRIORITY         Field = "priority"
	FIELD_STATE            Field = "state"
	FIELD_CITY             Field = "city"
	FIELD_ZONE             Field = "zone"

	// alias of FIELD_PRIORITY used by older rule documents
	FIELD_ORDER_PRIORITY Field = "order_priority"
)

var knownFields = map[Field]struct{}{
	FIELD_WEIGHT_KG:        {},
	FIELD_VALUE_INR:        {},
	FIELD_ORIGIN_ZONE:      {},
	FIELD_DESTINATION_ZONE: {},
	FIELD_PINCODE:          {},
	FIELD_CHANNEL:          {},
	FIELD_PAYMENT_MODE:     {},
	FIELD_PRIORITY:         {},
	FIELD_STATE:            {},
	FIELD_CITY:             {},
	FIELD_ZONE:             {},
}

// Canonical resolves aliases to the key used in the shipment context.
func (f Field) Canonical() Field {
	if f == FIELD_ORDER_PRIORITY {
		return FIELD_PRIORITY
	}
	return f
}

func (f Field) Valid() bool {
	_, ok := knownFields[f.Canonical()]
	return ok
}

type Operator string

const (
	OPERATOR_EQ          Operator = "eq"
	OPERATOR_NEQ         Operator = "neq"
	OPERATOR_GT          Operator = "gt"
	OPERATOR_GTE         Operator = "gte"
	OPERATOR_LT          Operator = "lt"
	OPERATOR_LTE         Operator = "lte"
	OPERATOR_IN          Operator = "in"
	OPERATOR_NOT_IN      Operator = "not_in"
	OPERATOR_CONTAINS    Operator = "contains"
	OPERATOR_STARTS_WITH Operator = "starts_with"
)

func (o Operator) Valid() bool {
	switch o {
	case OPERATOR_EQ, OPERATOR_NEQ, OPERATOR_GT, OPERATOR_GTE, OPERATOR_LT, OPERATOR_LTE,
		OPERATOR_IN, OPERATOR_NOT_IN, OPERATOR_CONTAINS, OPERATOR_STARTS_WITH:
		return true
	}
	return false
}

func (o Operator) numeric() bool {
	return o == OPERATOR_GT || o == OPERATOR_GTE || o == OPERATOR_LT || o == OPERATOR_LTE
}

func (o Operator) membership() bool {
	return o == OPERATOR_IN || o == OPERATOR_NOT_IN
}

type Connector string

const (
	CONNECTOR_AND Connector = "AND"
	CONNECTOR_OR  Connector = "OR"
)

type Condition struct {
	Field           Field       `json:"field" yaml:"field"`
	Operator        Operator    `json:"operator" yaml:"operator"`
	Value           interface{} `json:"value" yaml:"value"`
	LogicalOperator Connector   `json:"logicalOperator,omitempty" yaml:"logicalOperator,omitempty"`
}

func (c *Condition) Clone() *Condition {
	if c == nil {
		return nil
	}
	n := *c
	if l, ok := parse.ParseList(c.Value); ok {
		n.Value = append([]interface{}(nil), l...)
	}
	return &n
}

func (c *Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Operator, parse.ParseString(c.Value))
}

// Validate reports configuration problems. The first condition of a rule may omit
// its logical operator since it seeds the fold.
func (c *Condition) Validate(first bool) error {
	var errs []error
	if !c.Field.Valid() {
		errs = append(errs, fmt.Errorf("unknown field %q", c.Field))
	}
	if !c.Operator.Valid() {
		errs = append(errs, fmt.Errorf("unknown operator %q", c.Operator))
	}
	switch {
	case c.Operator.numeric():
		if _, ok := parse.ParseFloat(c.Value); !ok {
			errs = append(errs, fmt.Errorf("operator %s needs a numeric value, got %v", c.Operator, c.Value))
		}
	case c.Operator.membership():
		if _, ok := parse.ParseList(c.Value); !ok {
			errs = append(errs, fmt.Errorf("operator %s needs a list value, got %v", c.Operator, c.Value))
		}
	case c.Operator == OPERATOR_CONTAINS || c.Operator == OPERATOR_STARTS_WITH:
		if text, ok := scalarText(c.Value); !ok || text == "" {
			errs = append(errs, fmt.Errorf("operator %s needs a non-empty text value", c.Operator))
		}
	case c.Operator.Valid():
		if _, isList := parse.ParseList(c.Value); isList || c.Value == nil {
			errs = append(errs, fmt.Errorf("operator %s needs a scalar value", c.Operator))
		}
	}
	switch c.LogicalOperator {
	case CONNECTOR_AND, CONNECTOR_OR:
	case "":
		if !first {
			errs = append(errs, errors.New("logicalOperator is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown logicalOperator %q", c.LogicalOperator))
	}
	return errors.Join(errs...)
}

// EvaluateConditions folds conditions left to right, each one combined with the
// running result through its own logical operator. The first operator is ignored.
// No precedence applies: A OR B AND C is ((A OR B) AND C).
// The returned condition is the one that left the fold false, nil when it holds.
func EvaluateConditions(sc *ShipmentContext, conditions []*Condition) (bool, *Condition) {
	if len(conditions) == 0 {
		return true, nil
	}

	var unmet *Condition
	ok := EvaluateCondition(conditions[0], sc)
	if !ok {
		unmet = conditions[0]
	}
	for _, c := range conditions[1:] {
		if c == nil {
			continue
		}
		// false AND x stays false, true OR x stays true
		if (c.LogicalOperator == CONNECTOR_OR && ok) || (c.LogicalOperator != CONNECTOR_OR && !ok) {
			continue
		}
		ok = ConnectCondition(ok, EvaluateCondition(c, sc), c.LogicalOperator)
		if !ok && unmet == nil {
			unmet = c
		}
		if ok {
			unmet = nil
		}
	}
	return ok, unmet
}

// ConnectCondition applies one fold step. Anything but OR is treated as AND.
func ConnectCondition(res bool, eval bool, connector Connector) bool {
	if connector == CONNECTOR_OR {
		return res || eval
	}
	return res && eval
}

// EvaluateCondition tests one condition against the shipment facts. It never fails:
// a missing fact, a malformed value or an unknown operator all evaluate to false.
func EvaluateCondition(c *Condition, sc *ShipmentContext) bool {
	if c == nil || sc == nil {
		return false
	}

	if !c.Field.Valid() {
		slog.Debug("condition on unknown field evaluated as false", "field", c.Field, "operator", c.Operator)
		return false
	}

	fact := sc.Get(c.Field)
	if !fact.Exists() || fact.Type == gjson.Null {
		return false
	}

	if fact.IsArray() {
		return evaluateList(c, fact.Array())
	}

	fv := factValue(fact)

	switch c.Operator {
	case OPERATOR_GT, OPERATOR_GTE, OPERATOR_LT, OPERATOR_LTE:
		a, aok := parse.ParseFloat(fv)
		b, bok := parse.ParseFloat(c.Value)
		if !aok || !bok {
			return false
		}
		return compareFloat(a, b, c.Operator)
	case OPERATOR_EQ:
		return equal(fv, c.Value)
	case OPERATOR_NEQ:
		if _, isList := parse.ParseList(c.Value); isList || c.Value == nil {
			return false
		}
		return !equal(fv, c.Value)
	case OPERATOR_IN, OPERATOR_NOT_IN:
		set, ok := parse.ParseList(c.Value)
		if !ok {
			return false
		}
		in := inSet(fv, set)
		if c.Operator == OPERATOR_IN {
			return in
		}
		return !in
	case OPERATOR_CONTAINS:
		sub, ok := scalarText(c.Value)
		if !ok || sub == "" {
			return false
		}
		return strings.Contains(parse.Normalize(fv), sub)
	case OPERATOR_STARTS_WITH:
		prefix, ok := scalarText(c.Value)
		if !ok || prefix == "" {
			return false
		}
		return strings.HasPrefix(parse.Normalize(fv), prefix)
	}

	slog.Debug("condition with unknown operator evaluated as false", "field", c.Field, "operator", c.Operator)
	return false
}

// list facts only take part in membership tests
func evaluateList(c *Condition, items []gjson.Result) bool {
	set, ok := parse.ParseList(c.Value)
	if !ok {
		return false
	}
	found := false
	for _, it := range items {
		if inSet(factValue(it), set) {
			found = true
			break
		}
	}
	switch c.Operator {
	case OPERATOR_IN:
		return found
	case OPERATOR_NOT_IN:
		return !found
	}
	return false
}

func factValue(r gjson.Result) interface{} {
	switch r.Type {
	case gjson.Number:
		return r.Num
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.String:
		return r.Str
	}
	return r.Raw
}

func scalarText(v interface{}) (string, bool) {
	if v == nil {
		return "", false
	}
	if _, isList := parse.ParseList(v); isList {
		return "", false
	}
	return parse.Normalize(v), true
}

func equal(a, b interface{}) bool {
	if b == nil {
		return false
	}
	if _, isList := parse.ParseList(b); isList {
		return false
	}
	af, aok := parse.ParseFloat(a)
	bf, bok := parse.ParseFloat(b)
	if aok && bok {
		return af == bf
	}
	return parse.Normalize(a) == parse.Normalize(b)
}

func inSet(v interface{}, set []interface{}) bool {
	n := parse.Normalize(v)
	for _, s := range set {
		if parse.Normalize(s) == n {
			return true
		}
	}
	return false
}

func compareFloat(a, b float64, op Operator) bool {
	switch op {
	case OPERATOR_GT:
		return a > b
	case OPERATOR_GTE:
		return a >= b
	case OPERATOR_LT:
		return a < b
	case OPERATOR_LTE:
		return a <= b
	}
	return false
}
