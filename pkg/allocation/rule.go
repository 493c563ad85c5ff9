package allocation

import (
	"errors"
	"fmt"
	"time"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/parse"
)

// Scope restricts the shipment kinds a rule is eligible for.
type Scope string

const (
	SCOPE_FTL     Scope = "FTL"
	SCOPE_B2B_PTL Scope = "B2B_PTL"
	SCOPE_B2C     Scope = "B2C"
	SCOPE_ALL     Scope = "ALL"
)

func (s Scope) Valid() bool {
	switch s {
	case SCOPE_FTL, SCOPE_B2B_PTL, SCOPE_B2C, SCOPE_ALL:
		return true
	}
	return false
}

// Matches reports whether a rule of scope s is eligible for a shipment of the given kind.
func (s Scope) Matches(kind Scope) bool {
	return s == SCOPE_ALL || (s == kind && kind != SCOPE_ALL && kind != "")
}

type Mode string

const (
	MODE_AUTO          Mode = "AUTO"
	MODE_MANUAL_REVIEW Mode = "MANUAL_REVIEW"
)

func (m Mode) Valid() bool {
	return m == MODE_AUTO || m == MODE_MANUAL_REVIEW
}

var ErrInvalidRule = errors.New("invalid rule")

type Rule struct {
	ID         string       `json:"id" yaml:"id"`
	Name       string       `json:"name" yaml:"name"`
	Desc       string       `json:"desc,omitempty" yaml:"desc,omitempty"`
	Tags       string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Scope      Scope        `json:"scope" yaml:"scope"`
	Priority   int          `json:"priority" yaml:"priority"`
	Conditions []*Condition `json:"conditions" yaml:"conditions"`
	Actions    RuleActions  `json:"actions" yaml:"actions"`
	Active     bool         `json:"isActive" yaml:"isActive"`
	Version    int64        `json:"version" yaml:"version"`
	Created    time.Time    `json:"created" yaml:"created"`
	Updated    time.Time    `json:"updated" yaml:"updated"`
	CreatedBy  string       `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	UpdatedBy  string       `json:"updatedBy,omitempty" yaml:"updatedBy,omitempty"`
	ValidFrom  time.Time    `json:"validFrom,omitempty" yaml:"validFrom,omitempty"`
	ValidTo    time.Time    `json:"validTo,omitempty" yaml:"validTo,omitempty"`
	Changes    string       `json:"changes,omitempty" yaml:"changes,omitempty"`
}

type RuleActions struct {
	PreferredCarriers   []string `json:"preferredCarriers,omitempty" yaml:"preferredCarriers,omitempty"`
	AssignTransporterID string   `json:"assignTransporterId,omitempty" yaml:"assignTransporterId,omitempty"`
	AllocationMode      Mode     `json:"allocationMode" yaml:"allocationMode"`
}

// Mode defaults to AUTO when the rule author left it empty.
func (a RuleActions) Mode() Mode {
	if a.AllocationMode == "" {
		return MODE_AUTO
	}
	return a.AllocationMode
}

// InPeriod reports whether t falls inside the rule's optional validity window.
func (r *Rule) InPeriod(t time.Time) bool {
	return (r.ValidFrom.IsZero() || !t.Before(r.ValidFrom)) &&
		(r.ValidTo.IsZero() || t.Before(r.ValidTo))
}

// Clone deep-copies the rule so that later edits of r never leak into the copy.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	if r.Conditions != nil {
		c.Conditions = make([]*Condition, len(r.Conditions))
		for i, cond := range r.Conditions {
			c.Conditions[i] = cond.Clone()
		}
	}
	if r.Actions.PreferredCarriers != nil {
		c.Actions.PreferredCarriers = append([]string(nil), r.Actions.PreferredCarriers...)
	}
	return &c
}

// Validate checks the rule at save time. Every problem found is reported.
func (r *Rule) Validate() error {
	var errs []error

	if r.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if r.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if !r.Scope.Valid() {
		errs = append(errs, fmt.Errorf("unknown scope %q", r.Scope))
	}
	if !r.ValidFrom.IsZero() && !r.ValidTo.IsZero() && !r.ValidTo.After(r.ValidFrom) {
		errs = append(errs, errors.New("validTo must be after validFrom"))
	}
	for i, c := range r.Conditions {
		if c == nil {
			errs = append(errs, fmt.Errorf("condition %d: empty", i))
			continue
		}
		if err := c.Validate(i == 0); err != nil {
			errs = append(errs, fmt.Errorf("condition %d: %w", i, err))
		}
	}
	errs = append(errs, r.Actions.validate()...)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", ErrInvalidRule, r.ID, errors.Join(errs...))
}

func (a RuleActions) validate() []error {
	var errs []error
	if a.AllocationMode != "" && !a.AllocationMode.Valid() {
		errs = append(errs, fmt.Errorf("unknown allocationMode %q", a.AllocationMode))
	}
	if a.AssignTransporterID == "" && len(a.PreferredCarriers) == 0 {
		errs = append(errs, errors.New("actions need assignTransporterId or preferredCarriers"))
	}
	seen := make(map[string]struct{}, len(a.PreferredCarriers))
	for _, c := range a.PreferredCarriers {
		if c == "" {
			errs = append(errs, errors.New("preferredCarriers contains an empty id"))
			continue
		}
		k := parse.Normalize(c)
		if _, dup := seen[k]; dup {
			errs = append(errs, fmt.Errorf("preferredCarriers lists %q twice", c))
		}
		seen[k] = struct{}{}
	}
	return errs
}
