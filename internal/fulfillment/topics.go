package fulfillment

const (
	TopicOrderCreated = "order.created"
	TopicOrderStatus  = "order.status.changed"
	TopicOrderDeleted = "order.deleted"
)

// Partition key = order id, so all events for one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
