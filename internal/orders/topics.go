package orders

const (
	TableOrders    = "orders"
	TableCustomers = "customers"
	TableStats     = "inmemorycustomerstats"
)

const (
	TopicOrdersChanged    = "tables.orders.changed"
	TopicCustomersChanged = "tables.customers.changed"
)

// Partition key = row id, so all events of one row keep their order.
func PartitionKey(rowID string) []byte { return []byte(rowID) }

func TopicFor(table string) string {
	if table == TableCustomers {
		return TopicCustomersChanged
	}
	return TopicOrdersChanged
}
