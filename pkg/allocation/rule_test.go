// $ go test -v pkg/allocation/*.go

package allocation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validRule() *Rule {
	return &Rule{
		ID:       "heavy-north",
		Name:     "Heavy north",
		Scope:    SCOPE_FTL,
		Priority: 10,
		Active:   true,
		Conditions: []*Condition{
			{Field: FIELD_WEIGHT_KG, Operator: OPERATOR_GTE, Value: 500},
			{Field: FIELD_ORIGIN_ZONE, Operator: OPERATOR_IN, Value: []interface{}{"NORTH", "EAST"}, LogicalOperator: CONNECTOR_AND},
		},
		Actions: RuleActions{PreferredCarriers: []string{"VRL001", "TCI002"}},
	}
}

func TestRuleValidate(t *testing.T) {
	assert.NoError(t, validRule().Validate())

	r := validRule()
	r.Conditions = nil
	assert.NoError(t, r.Validate(), "a rule without conditions matches everything in scope")

	r = validRule()
	r.Actions = RuleActions{AssignTransporterID: "BLUEDART", AllocationMode: MODE_MANUAL_REVIEW}
	assert.NoError(t, r.Validate())
}

func TestRuleValidateReportsEverything(t *testing.T) {
	r := validRule()
	r.Name = ""
	r.Scope = "EXPRESS"
	r.Actions = RuleActions{AllocationMode: "FAST"}
	r.Conditions[1].Operator = "like"

	err := r.Validate()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRule))
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), `unknown scope "EXPRESS"`)
	assert.Contains(t, err.Error(), `unknown allocationMode "FAST"`)
	assert.Contains(t, err.Error(), "assignTransporterId or preferredCarriers")
	assert.Contains(t, err.Error(), "condition 1")
}

func TestRuleValidateCarriers(t *testing.T) {
	r := validRule()
	r.Actions.PreferredCarriers = []string{"VRL001", "vrl001"}
	assert.ErrorContains(t, r.Validate(), "twice")

	r.Actions.PreferredCarriers = []string{"VRL001", ""}
	assert.ErrorContains(t, r.Validate(), "empty id")
}

func TestRuleValidatePeriod(t *testing.T) {
	now := time.Now()
	r := validRule()
	r.ValidFrom = now
	r.ValidTo = now.Add(-time.Hour)
	assert.ErrorContains(t, r.Validate(), "validTo")
}

func TestRuleInPeriod(t *testing.T) {
	now := time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)
	r := validRule()
	assert.True(t, r.InPeriod(now))

	r.ValidFrom = now
	assert.True(t, r.InPeriod(now))
	assert.False(t, r.InPeriod(now.Add(-time.Second)))

	r.ValidTo = now.Add(time.Hour)
	assert.False(t, r.InPeriod(now.Add(time.Hour)))
}

func TestScopeMatches(t *testing.T) {
	assert.True(t, SCOPE_FTL.Matches(SCOPE_FTL))
	assert.False(t, SCOPE_FTL.Matches(SCOPE_B2C))
	assert.True(t, SCOPE_ALL.Matches(SCOPE_B2B_PTL))
	assert.True(t, SCOPE_ALL.Matches(""))
	assert.False(t, SCOPE_B2C.Matches(""))
	assert.False(t, SCOPE_B2C.Matches(SCOPE_ALL))
}

func TestRuleActionsMode(t *testing.T) {
	assert.Equal(t, MODE_AUTO, RuleActions{}.Mode())
	assert.Equal(t, MODE_MANUAL_REVIEW, RuleActions{AllocationMode: MODE_MANUAL_REVIEW}.Mode())
}

func TestRuleClone(t *testing.T) {
	r := validRule()
	c := r.Clone()
	assert.Equal(t, r, c)

	r.Conditions[1].Value.([]interface{})[0] = "WEST"
	r.Actions.PreferredCarriers[0] = "XYZ"
	r.Conditions[0].Value = 1

	assert.Equal(t, "NORTH", c.Conditions[1].Value.([]interface{})[0])
	assert.Equal(t, "VRL001", c.Actions.PreferredCarriers[0])
	assert.Equal(t, 500, c.Conditions[0].Value)
	assert.Nil(t, (*Rule)(nil).Clone())
}
