package events

// Topic constants for change notifications emitted by the service.
const (
	TopicCartUpdated             = "cart.updated"
	TopicDeliveryLocationUpdated = "delivery_location.updated"
	TopicCheckoutUpdated         = "checkout.updated"
	TopicOrderCreated            = "order.created"
)

// DefaultTopics returns the canonical list of topics.
func DefaultTopics() []string {
	return []string{
		TopicCartUpdated,
		TopicDeliveryLocationUpdated,
		TopicCheckoutUpdated,
		TopicOrderCreated,
	}
}
