package adapter

import (
	"context"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// ErrUpstreamUnavailable is returned by every Storefront failure, whatever
// the underlying cause.
var ErrUpstreamUnavailable = goerr.New("storefront upstream unavailable")

// Storefront is a read-only view of the shop
type Storefront interface {
	ListProducts(ctx context.Context, limit int) ([]*model.Product, error)
	ListRecentOrders(ctx context.Context, limit int) ([]*model.Order, error)
	ShopInfo(ctx context.Context) (*model.Shop, error)
}
