// Package lifecycle holds the order pickup state machine. Every drop-off,
// mark-ready and pickup call site resolves its guard through Next.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/vaidashi/marketplace-api/internal/models"
)

// Action is a pickup handoff step
type Action string

const (
	ActionAcceptDropoff Action = "accept_dropoff"
	ActionMarkReady     Action = "mark_ready"
	ActionVerifyPickup  Action = "verify_pickup"
)

// State is the pair of order columns the table is keyed on
type State struct {
	Status models.OrderStatus
	Pickup models.PickupStatus
}

func (s State) String() string {
	return fmt.Sprintf("%s/%s", s.Status, s.Pickup)
}

// Transition is one row of the table
type Transition struct {
	Action Action
	From   State
	To     State
	// NoOp marks a repeated action that already holds; nothing is written.
	NoOp bool
	// Event is the outbox event type emitted when the transition is applied
	Event string
	// StampPickup sets actual_pickup_date
	StampPickup bool
}

// ErrNotEligible is returned when the action is not allowed from the current state
var ErrNotEligible = errors.New("order is not eligible for this action")

var table = []Transition{
	{
		Action: ActionAcceptDropoff,
		From:   State{models.OrderStatusPending, models.PickupStatusPending},
		To:     State{models.OrderStatusDroppedOff, models.PickupStatusPending},
		Event:  models.EventOrderDroppedOff,
	},
	{
		Action: ActionAcceptDropoff,
		From:   State{models.OrderStatusProcessing, models.PickupStatusPending},
		To:     State{models.OrderStatusDroppedOff, models.PickupStatusPending},
		Event:  models.EventOrderDroppedOff,
	},
	{
		Action: ActionAcceptDropoff,
		From:   State{models.OrderStatusDroppedOff, models.PickupStatusPending},
		To:     State{models.OrderStatusDroppedOff, models.PickupStatusPending},
		NoOp:   true,
	},
	{
		Action: ActionMarkReady,
		From:   State{models.OrderStatusDroppedOff, models.PickupStatusPending},
		To:     State{models.OrderStatusReadyForPickup, models.PickupStatusReadyForPickup},
		Event:  models.EventOrderReadyForPickup,
	},
	{
		Action:      ActionVerifyPickup,
		From:        State{models.OrderStatusReadyForPickup, models.PickupStatusReadyForPickup},
		To:          State{models.OrderStatusDelivered, models.PickupStatusPickedUp},
		Event:       models.EventOrderPickedUp,
		StampPickup: true,
	},
}

// Next looks up the transition for action from the order's current state
func Next(action Action, status models.OrderStatus, pickup models.PickupStatus) (Transition, error) {
	from := State{Status: status, Pickup: pickup}

	for _, t := range table {
		if t.Action == action && t.From == from {
			return t, nil
		}
	}

	return Transition{}, fmt.Errorf("%w: %s from %s", ErrNotEligible, action, from)
}

// Allowed lists the states action may start from
func Allowed(action Action) []State {
	var states []State
	for _, t := range table {
		if t.Action == action {
			states = append(states, t.From)
		}
	}
	return states
}
