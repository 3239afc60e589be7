package events

// Event types emitted by the billing core. Listeners must treat delivery
// as best-effort; correctness never depends on an event being observed.
const (
	EventBillingCreated  = "billing.crud.create"
	EventBillingUpdated  = "billing.crud.update"
	EventBillingDeleted  = "billing.crud.delete"
	EventBillingPaid     = "billing.status.paid"
	EventBillingFailed   = "billing.status.failed"
	EventBillingPending  = "billing.status.pending"
	EventSubscriptionNew = "businesssubscription.crud.create"
	EventBusinessActive  = "business.activated"
	EventOrderSuccess    = "order.success"
)

// Event is the payload delivered to listeners.
type Event struct {
	Type     string         `json:"type"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Data     map[string]any `json:"data,omitempty"`
}
