package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Side 订单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Status is the order lifecycle state.
type Status int

const (
	StatusSubmitted Status = iota
	StatusAccepted
	StatusCompleted
	StatusCanceled
	StatusMargin
	StatusRejected
)

var statusNames = map[Status]string{
	StatusSubmitted: "Submitted",
	StatusAccepted:  "Accepted",
	StatusCompleted: "Completed",
	StatusCanceled:  "Canceled",
	StatusMargin:    "Margin",
	StatusRejected:  "Rejected",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// transitions is the complete set of legal moves. Terminal states have no
// outgoing edges.
var transitions = map[Status][]Status{
	StatusSubmitted: {StatusAccepted, StatusRejected},
	StatusAccepted:  {StatusCompleted, StatusCanceled, StatusMargin, StatusRejected},
}

// Terminal 终态之后订单不再变化。
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

var ErrIllegalTransition = errors.New("illegal order transition")

type OrderID int64

// Order is owned by the Broker. Callers only ever see copies; the status
// moves exclusively through transition.
type Order struct {
	ID   OrderID
	Side Side
	// Policy describes how the size is derived, e.g. "units(1)".
	Policy string
	// Requested is the size estimated at submission from the signal bar's close.
	Requested float64
	// Size is the filled size, zero unless Completed.
	Size       float64
	FillPrice  float64
	Commission float64
	Reason     string

	SubmittedIndex int
	SubmittedAt    time.Time
	ResolvedIndex  int
	ResolvedAt     time.Time

	status  Status
	history []Status
}

func newOrder(id OrderID, intent Intent, index int, at time.Time) Order {
	return Order{
		ID:             id,
		Side:           intent.Side,
		Policy:         intent.Size.String(),
		SubmittedIndex: index,
		SubmittedAt:    at,
		ResolvedIndex:  -1,
		status:         StatusSubmitted,
		history:        []Status{StatusSubmitted},
	}
}

func (o Order) Status() Status { return o.status }

// History lists every state the order has been in, oldest first.
func (o Order) History() []Status { return append([]Status(nil), o.history...) }

func (o Order) Terminal() bool { return o.status.Terminal() }

// Notional is FillPrice*Size for completed orders.
func (o Order) Notional() float64 { return o.FillPrice * o.Size }

func (o *Order) transition(to Status) error {
	if !o.status.CanTransition(to) {
		return fmt.Errorf("%w: order %d %s -> %s", ErrIllegalTransition, o.ID, o.status, to)
	}
	o.status = to
	o.history = append(o.history, to)
	return nil
}

type orderJSON struct {
	ID             OrderID   `json:"id"`
	Side           Side      `json:"side"`
	Policy         string    `json:"policy"`
	Status         Status    `json:"status"`
	Requested      float64   `json:"requested"`
	Size           float64   `json:"size"`
	FillPrice      float64   `json:"fill_price"`
	Commission     float64   `json:"commission"`
	Reason         string    `json:"reason,omitempty"`
	SubmittedIndex int       `json:"submitted_index"`
	SubmittedAt    time.Time `json:"submitted_at"`
	ResolvedIndex  int       `json:"resolved_index"`
	ResolvedAt     time.Time `json:"resolved_at,omitempty"`
}

func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		ID:             o.ID,
		Side:           o.Side,
		Policy:         o.Policy,
		Status:         o.status,
		Requested:      o.Requested,
		Size:           o.Size,
		FillPrice:      o.FillPrice,
		Commission:     o.Commission,
		Reason:         o.Reason,
		SubmittedIndex: o.SubmittedIndex,
		SubmittedAt:    o.SubmittedAt,
		ResolvedIndex:  o.ResolvedIndex,
		ResolvedAt:     o.ResolvedAt,
	})
}
