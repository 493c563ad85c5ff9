package allocation

import (
	"context"
	"errors"
	"log/slog"
)

var ErrNoServiceableCarrier = errors.New("no serviceable carrier")

// ActionResolver turns a matched rule's actions into a concrete transporter.
// It returns ErrNoServiceableCarrier (possibly wrapped) to escalate to the engine
// fallback. It is the only place allowed to do I/O and must honour ctx.
type ActionResolver interface {
	ResolveCarrier(ctx context.Context, actions RuleActions, sc *ShipmentContext) (string, error)
}

// Serviceability answers whether a carrier delivers to a pincode. Owned by the
// pincode/transporter service, consumed here.
type Serviceability interface {
	IsServiceable(ctx context.Context, carrierID string, pincode string) (bool, error)
}

// FallbackStrategy is the default allocation used when no rule applies.
type FallbackStrategy interface {
	DefaultCarrier(ctx context.Context, sc *ShipmentContext) (string, error)
}

type ServiceabilityFunc func(ctx context.Context, carrierID string, pincode string) (bool, error)

func (f ServiceabilityFunc) IsServiceable(ctx context.Context, carrierID string, pincode string) (bool, error) {
	return f(ctx, carrierID, pincode)
}

type FallbackFunc func(ctx context.Context, sc *ShipmentContext) (string, error)

func (f FallbackFunc) DefaultCarrier(ctx context.Context, sc *ShipmentContext) (string, error) {
	return f(ctx, sc)
}

// ServiceabilityResolver is the default ActionResolver: an explicitly assigned
// transporter wins when serviceable, otherwise preferred carriers are tried in order
// against the destination pincode.
type ServiceabilityResolver struct {
	Checker Serviceability
}

func NewServiceabilityResolver(checker Serviceability) *ServiceabilityResolver {
	return &ServiceabilityResolver{Checker: checker}
}

func (r *ServiceabilityResolver) ResolveCarrier(ctx context.Context, actions RuleActions, sc *ShipmentContext) (string, error) {
	pincode := ""
	if sc != nil {
		pincode = sc.Get(FIELD_PINCODE).String()
	}

	if actions.AssignTransporterID != "" {
		ok, err := r.serviceable(ctx, actions.AssignTransporterID, pincode)
		if err != nil {
			return "", err
		}
		if ok {
			return actions.AssignTransporterID, nil
		}
		return "", ErrNoServiceableCarrier
	}

	for _, carrier := range actions.PreferredCarriers {
		ok, err := r.serviceable(ctx, carrier, pincode)
		if err != nil {
			return "", err
		}
		if ok {
			return carrier, nil
		}
	}

	return "", ErrNoServiceableCarrier
}

// only context errors are returned, lookup failures count as not serviceable
func (r *ServiceabilityResolver) serviceable(ctx context.Context, carrier, pincode string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if r.Checker == nil {
		return true, nil
	}
	ok, err := r.Checker.IsServiceable(ctx, carrier, pincode)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		slog.Warn("serviceability lookup failed", "carrier", carrier, "pincode", pincode, "err", err.Error())
		return false, nil
	}
	return ok, nil
}
