// Package example shows one worked aggregate wired into the outbox: an
// Order, so the store and relay tests have a concrete payload to
// exercise end to end.
package example

import (
	"time"
)

// OrderStatus is a small status enum, mirroring the shape a tracked
// aggregate's status field typically takes.
type OrderStatus string

const (
	OrderPlaced    OrderStatus = "PLACED"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Order is a tracked aggregate: register it once at bootstrap with
// registry.Register[Order](reg, (Order).ToOutboxPayload,
// registry.WithChangedFields(), registry.WithMaxRetries(5)).
type Order struct {
	ID         string
	CustomerID string
	Status     OrderStatus
	TotalCents int64
	PlacedAt   time.Time
}

// OutboxID implements capture.Identifiable.
func (o Order) OutboxID() string { return o.ID }

// OrderPayload is the projection published on the bus: deliberately
// narrower than Order (no internal TotalCents precision games, no
// PlacedAt if callers don't need it) to demonstrate the per-aggregate
// projection hook.
type OrderPayload struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
	Status     string `json:"status"`
	TotalCents int64  `json:"totalCents"`
}

// ToOutboxPayload is the conventional projection method the registry binds
// via registry.Register's project parameter.
func (o Order) ToOutboxPayload() (any, error) {
	return OrderPayload{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Status:     string(o.Status),
		TotalCents: o.TotalCents,
	}, nil
}

// FieldMap renders an Order's fields other than PlacedAt into the old/new maps the
// capture interceptor's OnUpdate expects, standing in for a shadow-copy
// taken at the data-access boundary.
func (o Order) FieldMap() map[string]any {
	return map[string]any{
		"id":         o.ID,
		"customerId": o.CustomerID,
		"status":     string(o.Status),
		"totalCents": o.TotalCents,
	}
}
