package domain

// Outbox event payloads. One event per committed mutation.

type OrderCreated struct {
	OrderID    string
	CustomerID string
	TableID    string
	TotalCents int64
	Items      []OrderItem
}

type OrderItemAdded struct {
	OrderID         string
	Item            OrderItem
	OrderTotalCents int64
}

type OrderItemUpdated struct {
	OrderID         string
	ItemID          string
	Quantity        int
	LineTotalCents  int64
	OrderTotalCents int64
}

type OrderItemRemoved struct {
	OrderID         string
	ItemID          string
	OrderTotalCents int64
}

type OrderClosed struct {
	OrderID    string
	TotalCents int64
}

type OrderCancelled struct {
	OrderID string
	Reason  string
}
