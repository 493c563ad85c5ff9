// $ go test -v pkg/allocation/*.go

package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testContext() *ShipmentContext {
	return MustContext(SCOPE_B2C, map[string]interface{}{
		"weight_kg":        600,
		"value_inr":        "12500.50",
		"origin_zone":      "NORTH",
		"destination_zone": "south",
		"pincode":          "560001",
		"channel":          "Marketplace-Amazon",
		"payment_mode":     "COD",
		"priority":         "HIGH",
		"city":             "Bengaluru",
		"zone":             []interface{}{"METRO", "SOUTH"},
		"state":            nil,
	})
}

func cond(field Field, op Operator, value interface{}) *Condition {
	return &Condition{Field: field, Operator: op, Value: value, LogicalOperator: CONNECTOR_AND}
}

func TestConnect(t *testing.T) {
	assert.True(t, ConnectCondition(true, true, CONNECTOR_AND))
	assert.False(t, ConnectCondition(true, false, CONNECTOR_AND))
	assert.True(t, ConnectCondition(true, false, CONNECTOR_OR))
	assert.False(t, ConnectCondition(false, false, CONNECTOR_OR))
	assert.False(t, ConnectCondition(true, false, ""))
}

func TestNumericOperators(t *testing.T) {
	sc := testContext()

	assert.True(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, OPERATOR_GT, 500), sc))
	assert.True(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, OPERATOR_GTE, "600"), sc))
	assert.False(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, OPERATOR_LT, 600), sc))
	assert.True(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, OPERATOR_LTE, 600.0), sc))

	// string fact holding a number
	assert.True(t, EvaluateCondition(cond(FIELD_VALUE_INR, OPERATOR_GT, 10000), sc))

	// non numeric on either side fails closed
	assert.False(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, OPERATOR_GT, "six hundred"), sc))
	assert.False(t, EvaluateCondition(cond(FIELD_ORIGIN_ZONE, OPERATOR_GT, 1), sc))
	assert.False(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, OPERATOR_GT, []interface{}{1}), sc))
}

func TestEqualityOperators(t *testing.T) {
	sc := testContext()

	// numeric comparison when both sides are numbers
	assert.True(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, OPERATOR_EQ, "600"), sc))
	assert.True(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, OPERATOR_EQ, "600.0"), sc))
	assert.True(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, OPERATOR_NEQ, 500), sc))

	// normalized strings otherwise
	assert.True(t, EvaluateCondition(cond(FIELD_ORIGIN_ZONE, OPERATOR_EQ, "north"), sc))
	assert.True(t, EvaluateCondition(cond(FIELD_DESTINATION_ZONE, OPERATOR_EQ, " SOUTH "), sc))
	assert.False(t, EvaluateCondition(cond(FIELD_ORIGIN_ZONE, OPERATOR_NEQ, "NORTH"), sc))
	assert.True(t, EvaluateCondition(cond(FIELD_PAYMENT_MODE, OPERATOR_NEQ, "PREPAID"), sc))

	// a string pincode is not trimmed of leading digits
	assert.True(t, EvaluateCondition(cond(FIELD_PINCODE, OPERATOR_EQ, 560001), sc))

	// missing value fails closed for both operators
	assert.False(t, EvaluateCondition(cond(FIELD_ORIGIN_ZONE, OPERATOR_EQ, nil), sc))
	assert.False(t, EvaluateCondition(cond(FIELD_ORIGIN_ZONE, OPERATOR_NEQ, nil), sc))
}

func TestMembershipOperators(t *testing.T) {
	sc := testContext()

	assert.True(t, EvaluateCondition(cond(FIELD_ORIGIN_ZONE, OPERATOR_IN, []interface{}{"EAST", "north"}), sc))
	assert.False(t, EvaluateCondition(cond(FIELD_ORIGIN_ZONE, OPERATOR_NOT_IN, []interface{}{"NORTH"}), sc))
	assert.True(t, EvaluateCondition(cond(FIELD_PINCODE, OPERATOR_IN, []string{"110001", "560001"}), sc))
	assert.True(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, OPERATOR_IN, []interface{}{600.0}), sc))

	// exact match, no substring
	assert.False(t, EvaluateCondition(cond(FIELD_PINCODE, OPERATOR_IN, []interface{}{"56000"}), sc))

	// non list value is a configuration error
	assert.False(t, EvaluateCondition(cond(FIELD_ORIGIN_ZONE, OPERATOR_IN, "NORTH"), sc))
	assert.False(t, EvaluateCondition(cond(FIELD_ORIGIN_ZONE, OPERATOR_NOT_IN, "SOUTH"), sc))
}

func TestListFacts(t *testing.T) {
	sc := testContext()

	assert.True(t, EvaluateCondition(cond(FIELD_ZONE, OPERATOR_IN, []interface{}{"metro"}), sc))
	assert.True(t, EvaluateCondition(cond(FIELD_ZONE, OPERATOR_NOT_IN, []interface{}{"RURAL"}), sc))
	assert.False(t, EvaluateCondition(cond(FIELD_ZONE, OPERATOR_NOT_IN, []interface{}{"SOUTH"}), sc))
	assert.False(t, EvaluateCondition(cond(FIELD_ZONE, OPERATOR_EQ, "METRO"), sc))
}

func TestStringOperators(t *testing.T) {
	sc := testContext()

	assert.True(t, EvaluateCondition(cond(FIELD_CHANNEL, OPERATOR_CONTAINS, "amazon"), sc))
	assert.True(t, EvaluateCondition(cond(FIELD_CHANNEL, OPERATOR_STARTS_WITH, "market"), sc))
	assert.False(t, EvaluateCondition(cond(FIELD_CHANNEL, OPERATOR_STARTS_WITH, "amazon"), sc))
	assert.True(t, EvaluateCondition(cond(FIELD_PINCODE, OPERATOR_STARTS_WITH, 56), sc))

	// non string facts are stringified
	assert.True(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, OPERATOR_STARTS_WITH, "6"), sc))
	assert.False(t, EvaluateCondition(cond(FIELD_CHANNEL, OPERATOR_CONTAINS, []interface{}{"amazon"}), sc))
}

func TestMissingFieldFailsClosed(t *testing.T) {
	sc := MustContext(SCOPE_FTL, map[string]interface{}{"origin_zone": "NORTH"})

	for _, op := range []Operator{
		OPERATOR_EQ, OPERATOR_NEQ, OPERATOR_GT, OPERATOR_GTE, OPERATOR_LT, OPERATOR_LTE,
		OPERATOR_IN, OPERATOR_NOT_IN, OPERATOR_CONTAINS, OPERATOR_STARTS_WITH,
	} {
		value := interface{}(500)
		if op == OPERATOR_IN || op == OPERATOR_NOT_IN {
			value = []interface{}{500}
		}
		assert.False(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, op, value), sc), "operator %s", op)
	}

	// null facts are missing too
	assert.False(t, EvaluateCondition(cond(FIELD_STATE, OPERATOR_NOT_IN, []interface{}{"KA"}), testContext()))
}

func TestUnknownOperatorFailsClosed(t *testing.T) {
	assert.False(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, Operator("between"), "1<>1000"), testContext()))
	assert.False(t, EvaluateCondition(nil, testContext()))
	assert.False(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, OPERATOR_GT, 1), nil))
}

func TestUnknownFieldFailsClosed(t *testing.T) {
	sc := MustContext(SCOPE_FTL, map[string]interface{}{
		"shipment_id": "SHP-1",
		"weight_kg":   600,
		"customer":    "ACME",
	})

	assert.False(t, EvaluateCondition(cond(Field(FACT_KIND), OPERATOR_EQ, "FTL"), sc))
	assert.False(t, EvaluateCondition(cond(Field(FACT_SHIPMENT_ID), OPERATOR_EQ, "SHP-1"), sc))
	assert.False(t, EvaluateCondition(cond(Field("customer"), OPERATOR_EQ, "acme"), sc))
	assert.False(t, EvaluateCondition(cond(Field("weight_kg|@reverse"), OPERATOR_GT, 1), sc))
	assert.True(t, EvaluateCondition(cond(FIELD_WEIGHT_KG, OPERATOR_GT, 500), sc))

	rules := []*Rule{{
		ID:         "r",
		Name:       "customer rule",
		Scope:      SCOPE_ALL,
		Active:     true,
		Conditions: []*Condition{cond(Field("customer"), OPERATOR_EQ, "ACME")},
		Actions:    RuleActions{AssignTransporterID: "VRL001"},
	}}
	assert.Nil(t, SelectRule(rules, sc))
}

func TestEmptyTextNeverMatches(t *testing.T) {
	sc := testContext()
	assert.False(t, EvaluateCondition(cond(FIELD_CHANNEL, OPERATOR_CONTAINS, ""), sc))
	assert.False(t, EvaluateCondition(cond(FIELD_CITY, OPERATOR_STARTS_WITH, "  "), sc))
	assert.True(t, EvaluateCondition(cond(FIELD_CITY, OPERATOR_STARTS_WITH, "beng"), sc))

	assert.Error(t, cond(FIELD_CHANNEL, OPERATOR_CONTAINS, "").Validate(false))
	assert.Error(t, cond(FIELD_CITY, OPERATOR_STARTS_WITH, " ").Validate(false))
	assert.NoError(t, cond(FIELD_CITY, OPERATOR_STARTS_WITH, "Ben").Validate(false))
}

func TestFieldAlias(t *testing.T) {
	c := cond(FIELD_ORDER_PRIORITY, OPERATOR_EQ, "high")
	assert.True(t, EvaluateCondition(c, testContext()))
	assert.True(t, FIELD_ORDER_PRIORITY.Valid())
	assert.False(t, Field("volume_cbm").Valid())
}

func TestEvaluateConditionsFold(t *testing.T) {
	sc := testContext()
	yes := func(lo Connector) *Condition {
		return &Condition{Field: FIELD_ORIGIN_ZONE, Operator: OPERATOR_EQ, Value: "NORTH", LogicalOperator: lo}
	}
	no := func(lo Connector) *Condition {
		return &Condition{Field: FIELD_ORIGIN_ZONE, Operator: OPERATOR_EQ, Value: "EAST", LogicalOperator: lo}
	}

	ok, unmet := EvaluateConditions(sc, nil)
	assert.True(t, ok)
	assert.Nil(t, unmet)

	// the first logical operator only seeds the fold
	ok, _ = EvaluateConditions(sc, []*Condition{no(CONNECTOR_OR), yes(CONNECTOR_AND)})
	assert.False(t, ok)

	ok, _ = EvaluateConditions(sc, []*Condition{no(CONNECTOR_AND), yes(CONNECTOR_OR)})
	assert.True(t, ok)

	// A OR B AND C is ((A OR B) AND C), not A OR (B AND C)
	ok, unmet = EvaluateConditions(sc, []*Condition{yes(CONNECTOR_AND), yes(CONNECTOR_OR), no(CONNECTOR_AND)})
	assert.False(t, ok)
	assert.Equal(t, "EAST", unmet.Value)

	// (false AND true) OR true
	ok, unmet = EvaluateConditions(sc, []*Condition{no(CONNECTOR_AND), yes(CONNECTOR_AND), yes(CONNECTOR_OR)})
	assert.True(t, ok)
	assert.Nil(t, unmet)
}

func TestFoldOrSeedThenAnd(t *testing.T) {
	sc := MustContext(SCOPE_B2C, map[string]interface{}{"weight_kg": 10, "origin_zone": "NORTH"})
	conditions := []*Condition{
		{Field: FIELD_WEIGHT_KG, Operator: OPERATOR_GT, Value: 100, LogicalOperator: CONNECTOR_OR},
		{Field: FIELD_ORIGIN_ZONE, Operator: OPERATOR_EQ, Value: "NORTH", LogicalOperator: CONNECTOR_AND},
	}
	ok, unmet := EvaluateConditions(sc, conditions)
	assert.False(t, ok)
	assert.Equal(t, FIELD_WEIGHT_KG, unmet.Field)

	conditions[1].LogicalOperator = CONNECTOR_OR
	ok, _ = EvaluateConditions(sc, conditions)
	assert.True(t, ok)
}

func TestConditionValidate(t *testing.T) {
	assert.NoError(t, cond(FIELD_WEIGHT_KG, OPERATOR_GTE, 500).Validate(false))
	assert.NoError(t, (&Condition{Field: FIELD_CITY, Operator: OPERATOR_EQ, Value: "Pune"}).Validate(true))

	assert.Error(t, (&Condition{Field: FIELD_CITY, Operator: OPERATOR_EQ, Value: "Pune"}).Validate(false))
	assert.Error(t, cond(FIELD_WEIGHT_KG, OPERATOR_GT, "six hundred").Validate(false))
	assert.Error(t, cond(FIELD_ZONE, OPERATOR_IN, "NORTH").Validate(false))
	assert.Error(t, cond(FIELD_ZONE, OPERATOR_EQ, []interface{}{"NORTH"}).Validate(false))
	assert.Error(t, cond(Field("volume"), OPERATOR_EQ, 1).Validate(false))
	assert.Error(t, cond(FIELD_ZONE, Operator("like"), "N%").Validate(false))
	assert.Error(t, (&Condition{Field: FIELD_ZONE, Operator: OPERATOR_EQ, Value: "N", LogicalOperator: "XOR"}).Validate(false))
}
