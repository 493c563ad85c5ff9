package repo

import (
	"fmt"
	"slices"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
)

// CompareRules lists the human readable differences between two versions of a rule.
func CompareRules(old *allocation.Rule, new *allocation.Rule) []string {
	res := make([]string, 0)

	// string fields
	if old.Name != new.Name {
		res = append(res, fmt.Sprintf("Name updated to %s", new.Name))
	}
	if old.Desc != new.Desc {
		res = append(res, fmt.Sprintf("Desc updated to %s", new.Desc))
	}
	if old.Tags != new.Tags {
		res = append(res, fmt.Sprintf("Tags updated to %s", new.Tags))
	}
	if old.Scope != new.Scope {
		res = append(res, fmt.Sprintf("Scope updated to %s", new.Scope))
	}

	// int fields
	if old.Priority != new.Priority {
		res = append(res, fmt.Sprintf("Priority updated to %d", new.Priority))
	}

	// time.Time fields
	if !old.ValidFrom.Equal(new.ValidFrom) {
		res = append(res, fmt.Sprintf("ValidFrom updated to %s", new.ValidFrom))
	}
	if !old.ValidTo.Equal(new.ValidTo) {
		res = append(res, fmt.Sprintf("ValidTo updated to %s", new.ValidTo))
	}

	if old.Active != new.Active {
		if new.Active {
			res = append(res, "Rule enabled")
		} else {
			res = append(res, "Rule disabled")
		}
	}

	res = append(res, compareActions(old.Actions, new.Actions)...)
	res = append(res, compareConditions(old.Conditions, new.Conditions)...)

	return res
}

func compareActions(old allocation.RuleActions, new allocation.RuleActions) []string {
	res := make([]string, 0)

	if old.AssignTransporterID != new.AssignTransporterID {
		if new.AssignTransporterID == "" {
			res = append(res, "Assigned transporter removed")
		} else {
			res = append(res, fmt.Sprintf("Assigned transporter updated to %s", new.AssignTransporterID))
		}
	}
	if old.Mode() != new.Mode() {
		res = append(res, fmt.Sprintf("Allocation mode updated to %s", new.Mode()))
	}

	for _, c := range old.PreferredCarriers {
		if !slices.Contains(new.PreferredCarriers, c) {
			res = append(res, fmt.Sprintf("Preferred carrier %s was removed", c))
		}
	}
	for _, c := range new.PreferredCarriers {
		if !slices.Contains(old.PreferredCarriers, c) {
			res = append(res, fmt.Sprintf("Preferred carrier %s was added", c))
		}
	}
	if len(res) == 0 && !slices.Equal(old.PreferredCarriers, new.PreferredCarriers) {
		res = append(res, "Preferred carriers reordered")
	}

	return res
}

// conditions are compared by position since the fold depends on their order
func compareConditions(old []*allocation.Condition, new []*allocation.Condition) []string {
	res := make([]string, 0)

	for i := 0; i < max(len(old), len(new)); i++ {
		switch {
		case i >= len(new):
			res = append(res, fmt.Sprintf("Condition %d (%s) was removed", i+1, describe(old[i])))
		case i >= len(old):
			res = append(res, fmt.Sprintf("Condition %d (%s) was added", i+1, describe(new[i])))
		case describe(old[i]) != describe(new[i]):
			res = append(res, fmt.Sprintf("Condition %d changed from (%s) to (%s)", i+1, describe(old[i]), describe(new[i])))
		}
	}

	return res
}

func describe(c *allocation.Condition) string {
	if c == nil {
		return "empty"
	}
	if c.LogicalOperator == "" {
		return c.String()
	}
	return fmt.Sprintf("%s %s", c.LogicalOperator, c.String())
}
