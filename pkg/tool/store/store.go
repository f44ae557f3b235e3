package store

import (
	"context"
	"encoding/json"
	"math"
	"strconv"

	"github.com/m-mizutani/comanager/pkg/adapter"
	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const (
	FuncGetProducts     = "get_products"
	FuncGetLatestOrders = "get_latest_orders"
	FuncGetShopStats    = "get_shop_stats"

	defaultLimit = 10
)

// Tool serves read-only storefront functions to the marketing agent
type Tool struct {
	maxLimit   int64
	storefront adapter.Storefront
}

// New creates the store tool. It is enabled only when a storefront is
// available in the tool client.
func New() *Tool {
	return &Tool{maxLimit: 50}
}

func (t *Tool) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "store-max-limit",
			Usage:       "Upper bound of items a store tool returns per call",
			Value:       50,
			Sources:     cli.EnvVars("COMANAGER_STORE_MAX_LIMIT"),
			Destination: &t.maxLimit,
		},
	}
}

func (t *Tool) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if client == nil || client.Storefront == nil {
		return false, nil
	}
	t.storefront = client.Storefront
	return true, nil
}

func (t *Tool) Prompt(ctx context.Context) string {
	return "Store tools return Markdown tables. Present store data as a readable Markdown table and never output raw JSON unless explicitly asked for debugging."
}

func (t *Tool) Specs() []model.ToolDeclaration {
	limit := model.Parameter{
		Name:        "limit",
		Type:        model.ParameterInteger,
		Description: "Number of items to fetch (default 10)",
	}

	return []model.ToolDeclaration{
		{
			Name:        FuncGetProducts,
			Description: "Get a list of products from the store to analyze inventory, pricing, and identify promotion opportunities.",
			Parameters:  []model.Parameter{limit},
		},
		{
			Name:        FuncGetLatestOrders,
			Description: "Get the most recent orders to analyze customer behavior, popular products, and sales trends.",
			Parameters:  []model.Parameter{limit},
		},
		{
			Name:        FuncGetShopStats,
			Description: "Get basic shop information (name, currency, domain) to understand the business context.",
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	if t.storefront == nil {
		return "", goerr.New("storefront is not configured")
	}

	switch name {
	case FuncGetProducts:
		products, err := t.storefront.ListProducts(ctx, t.limit(args))
		if err != nil {
			return "", err
		}
		return FormatProducts(products), nil

	case FuncGetLatestOrders:
		orders, err := t.storefront.ListRecentOrders(ctx, t.limit(args))
		if err != nil {
			return "", err
		}
		return FormatOrders(orders), nil

	case FuncGetShopStats:
		shop, err := t.storefront.ShopInfo(ctx)
		if err != nil {
			return "", err
		}
		return FormatShop(shop), nil
	}

	return "", goerr.New("unknown store function", goerr.V("name", name))
}

// limit reads the optional limit argument. Missing, malformed or
// non-positive values fall back to the default; large values are capped.
func (t *Tool) limit(args map[string]any) int {
	n := defaultLimit
	switch v := args["limit"].(type) {
	case float64:
		switch {
		case math.IsNaN(v) || v <= 0:
			n = defaultLimit
		case t.maxLimit > 0 && v >= float64(t.maxLimit):
			n = int(t.maxLimit)
		case v >= math.MaxInt32:
			n = math.MaxInt32
		default:
			n = int(v)
		}
	case int:
		n = v
	case int64:
		n = int(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			n = int(i)
		}
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			n = i
		}
	}

	if n <= 0 {
		n = defaultLimit
	}
	if t.maxLimit > 0 && int64(n) > t.maxLimit {
		n = int(t.maxLimit)
	}
	return n
}
