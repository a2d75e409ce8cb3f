package order

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending          Status = "pending"
	StatusProcessing       Status = "processing"
	StatusAwaitingDelivery Status = "awaiting_delivery"
	StatusOutForDelivery   Status = "out_for_delivery"
	StatusDelivered        Status = "delivered"
	StatusCancelled        Status = "cancelled"
	// StatusShipped is only kept so that older records still load.
	StatusShipped Status = "shipped"
)

var knownStatuses = map[Status]struct{}{
	StatusPending:          {},
	StatusProcessing:       {},
	StatusAwaitingDelivery: {},
	StatusOutForDelivery:   {},
	StatusDelivered:        {},
	StatusCancelled:        {},
	StatusShipped:          {},
}

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

// ParseStatus converts a raw value into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", &InvalidStatusError{Status: raw}
	}
	return s, nil
}

const noteOrderCreated = "Order created."
