package results

import (
	"context"
)

// OrderRepository is the order backend. GetOrder returns ErrNotFound for
// unknown ids. BulkUpdate applies all commands or none.
type OrderRepository interface {
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	BulkUpdate(ctx context.Context, orderID string, cmds []UpdateCommand) error
	DeleteLine(ctx context.Context, lineID string) error
	UpdateStatus(ctx context.Context, orderID string, status OrderStatus) error
}
