package orders

const (
	TopicOrderStatusChanged = "order.status.changed"
	TopicStockReceived      = "inventory.stock.received"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
