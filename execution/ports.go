package execution

import (
	"context"

	"github.com/web3guy0/qqqbot/types"
)

// OrderSubmitter is the only broker capability execution needs
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error)
}

// OrderLookup is optional. When the broker supports it, an order whose
// submission errored is looked up by client id so fills are not lost.
type OrderLookup interface {
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*types.Order, error)
}
