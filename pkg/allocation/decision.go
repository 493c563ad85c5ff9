package allocation

import (
	"encoding/json"
	"time"
)

type Reason string

const (
	REASON_RULE_MATCH        Reason = "RULE_MATCH"
	REASON_NO_MATCHING_RULE  Reason = "NO_MATCHING_RULE"
	REASON_RESOLVER_FALLBACK Reason = "RESOLVER_FALLBACK"
)

// State of one allocation. RESOLVED and UNRESOLVED are terminal.
type State string

const (
	STATE_PENDING      State = "PENDING"
	STATE_RULE_MATCHED State = "RULE_MATCHED"
	STATE_NO_MATCH     State = "NO_MATCH"
	STATE_RESOLVED     State = "RESOLVED"
	STATE_UNRESOLVED   State = "UNRESOLVED"
)

func (s State) Terminal() bool {
	return s == STATE_RESOLVED || s == STATE_UNRESOLVED
}

// Decision is the engine output. It is returned to the caller and handed to the
// audit sinks, the engine itself never persists it.
type Decision struct {
	ID              string        `json:"id"`
	ShipmentID      string        `json:"shipmentId,omitempty"`
	MatchedRuleID   string        `json:"matchedRuleId,omitempty"`
	TransporterID   string        `json:"transporterId,omitempty"`
	AllocationMode  Mode          `json:"allocationMode"`
	Reason          Reason        `json:"reason"`
	State           State         `json:"state"`
	SnapshotVersion uint64        `json:"snapshotVersion"`
	DryRun          bool          `json:"dryRun,omitempty"`
	DecidedAt       time.Time     `json:"decidedAt"`
	Unmet           []string      `json:"unmet,omitempty"`
	Error           error         `json:"-"`
	Duration        time.Duration `json:"-"`

	// Shipment is the context the decision was taken for, kept for sinks that
	// need to retry it.
	Shipment *ShipmentContext `json:"-"`
}

// Unresolved is the case callers must handle, typically by queueing the shipment
// for manual dispatch.
func (d *Decision) Unresolved() bool {
	return d.State == STATE_UNRESOLVED
}

func (d *Decision) MarshalJSON() ([]byte, error) {
	type Alias Decision
	var errorMessage string
	if d.Error != nil {
		errorMessage = d.Error.Error()
	}
	return json.Marshal(&struct {
		*Alias
		Error    string `json:"error,omitempty"`
		Duration string `json:"duration"`
	}{
		Alias:    (*Alias)(d),
		Error:    errorMessage,
		Duration: d.Duration.String(),
	})
}
