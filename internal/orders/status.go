package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

type Event string

const (
	EventConfirm Event = "confirm"
	EventCancel  Event = "cancel"
	EventPay     Event = "pay"
	EventShip    Event = "ship"
	EventDeliver Event = "deliver"
	EventRefund  Event = "refund"
)

var validNext = map[Status]map[Event]Status{
	StatusPending:   {EventConfirm: StatusConfirmed, EventCancel: StatusCancelled},
	StatusConfirmed: {EventPay: StatusPaid, EventCancel: StatusCancelled},
	StatusPaid:      {EventShip: StatusShipped, EventRefund: StatusRefunded},
	StatusShipped:   {EventDeliver: StatusDelivered, EventRefund: StatusRefunded},
	StatusDelivered: {},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// Next returns the status ev leads to from from, or false if ev is not allowed there.
func Next(from Status, ev Event) (Status, bool) {
	to, ok := validNext[from][ev]
	return to, ok
}

func (s Status) IsTerminal() bool {
	next, known := validNext[s]
	return known && len(next) == 0
}

func ParseEvent(s string) (Event, bool) {
	switch ev := Event(s); ev {
	case EventConfirm, EventCancel, EventPay, EventShip, EventDeliver, EventRefund:
		return ev, true
	}
	return "", false
}
