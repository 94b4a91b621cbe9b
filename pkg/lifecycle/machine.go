package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/qmuntal/stateless"
)

var ErrInvalidTransition = errors.New("invalid trigger resource transition")

const stateNone = models.TriggerResourceStatus("")

const (
	triggerActivate   = "activate"
	triggerDeactivate = "deactivate"
	triggerDelete     = "delete"
)

// newResourceMachine describes the allowed resource status changes:
// none -> active, active -> active | inactive | deleted,
// inactive -> active | inactive | deleted. Deleted is terminal.
func newResourceMachine(current models.TriggerResourceStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(current)

	sm.Configure(stateNone).
		Permit(triggerActivate, models.TriggerResourceActive)

	sm.Configure(models.TriggerResourceActive).
		PermitReentry(triggerActivate).
		Permit(triggerDeactivate, models.TriggerResourceInactive).
		Permit(triggerDelete, models.TriggerResourceDeleted)

	sm.Configure(models.TriggerResourceInactive).
		Permit(triggerActivate, models.TriggerResourceActive).
		PermitReentry(triggerDeactivate).
		Permit(triggerDelete, models.TriggerResourceDeleted)

	sm.Configure(models.TriggerResourceDeleted)

	return sm
}

// transition returns the status reached by firing trigger from current.
func transition(ctx context.Context, current models.TriggerResourceStatus, trigger string) (models.TriggerResourceStatus, error) {
	sm := newResourceMachine(current)

	if err := sm.FireCtx(ctx, trigger); err != nil {
		from := current
		if from == stateNone {
			from = "none"
		}

		return current, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, from)
	}

	next, ok := sm.MustState().(models.TriggerResourceStatus)
	if !ok {
		return current, fmt.Errorf("%w: unexpected state %v", ErrInvalidTransition, sm.MustState())
	}

	return next, nil
}
