package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const shopifyAPIVersion = "2024-01"

type ShopifyClient struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
}

type ShopifyOption func(*ShopifyClient)

// WithShopifyEndpoint replaces the GraphQL endpoint derived from the domain
func WithShopifyEndpoint(endpoint string) ShopifyOption {
	return func(c *ShopifyClient) {
		c.endpoint = endpoint
	}
}

func WithShopifyHTTPClient(client *http.Client) ShopifyOption {
	return func(c *ShopifyClient) {
		c.httpClient = client
	}
}

// NewShopify creates a Storefront backed by the Shopify Admin GraphQL API.
// The domain may carry a scheme and trailing slash.
func NewShopify(domain, accessToken string, opts ...ShopifyOption) (*ShopifyClient, error) {
	if domain == "" || accessToken == "" {
		return nil, goerr.New("shopify domain and access token are required")
	}

	c := &ShopifyClient{
		endpoint:    "https://" + normalizeShopDomain(domain) + "/admin/api/" + shopifyAPIVersion + "/graphql.json",
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func normalizeShopDomain(domain string) string {
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	return strings.TrimSuffix(domain, "/")
}

const shopifyProductsQuery = `query getProducts($limit: Int!) {
  products(first: $limit) {
    edges {
      node {
        id
        title
        productType
        totalInventory
        status
        priceRangeV2 { minVariantPrice { amount currencyCode } }
      }
    }
  }
}`

const shopifyOrdersQuery = `query getOrders($limit: Int!) {
  orders(first: $limit, sortKey: CREATED_AT, reverse: true) {
    edges {
      node {
        id
        name
        createdAt
        totalPriceSet { shopMoney { amount currencyCode } }
        displayFinancialStatus
        displayFulfillmentStatus
      }
    }
  }
}`

const shopifyShopQuery = `query getShopInfo {
  shop { name currencyCode myshopifyDomain }
}`

type shopifyMoney struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

func (c *ShopifyClient) ListProducts(ctx context.Context, limit int) ([]*model.Product, error) {
	var data struct {
		Products struct {
			Edges []struct {
				Node struct {
					ID             string `json:"id"`
					Title          string `json:"title"`
					ProductType    string `json:"productType"`
					TotalInventory int    `json:"totalInventory"`
					Status         string `json:"status"`
					PriceRangeV2   struct {
						MinVariantPrice shopifyMoney `json:"minVariantPrice"`
					} `json:"priceRangeV2"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"products"`
	}
	if err := c.query(ctx, shopifyProductsQuery, map[string]any{"limit": limit}, &data); err != nil {
		return nil, err
	}

	products := make([]*model.Product, 0, len(data.Products.Edges))
	for _, e := range data.Products.Edges {
		price, _ := strconv.ParseFloat(e.Node.PriceRangeV2.MinVariantPrice.Amount, 64)
		products = append(products, &model.Product{
			ID:        e.Node.ID,
			Title:     e.Node.Title,
			Status:    e.Node.Status,
			Inventory: e.Node.TotalInventory,
			Price:     price,
			Currency:  e.Node.PriceRangeV2.MinVariantPrice.CurrencyCode,
			Category:  e.Node.ProductType,
		})
	}
	return products, nil
}

func (c *ShopifyClient) ListRecentOrders(ctx context.Context, limit int) ([]*model.Order, error) {
	var data struct {
		Orders struct {
			Edges []struct {
				Node struct {
					ID            string    `json:"id"`
					Name          string    `json:"name"`
					CreatedAt     time.Time `json:"createdAt"`
					TotalPriceSet struct {
						ShopMoney shopifyMoney `json:"shopMoney"`
					} `json:"totalPriceSet"`
					DisplayFinancialStatus   string `json:"displayFinancialStatus"`
					DisplayFulfillmentStatus string `json:"displayFulfillmentStatus"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"orders"`
	}
	if err := c.query(ctx, shopifyOrdersQuery, map[string]any{"limit": limit}, &data); err != nil {
		return nil, err
	}

	orders := make([]*model.Order, 0, len(data.Orders.Edges))
	for _, e := range data.Orders.Edges {
		orders = append(orders, &model.Order{
			ID:                e.Node.ID,
			OrderNumber:       e.Node.Name,
			Date:              e.Node.CreatedAt,
			Total:             e.Node.TotalPriceSet.ShopMoney.Amount,
			Currency:          e.Node.TotalPriceSet.ShopMoney.CurrencyCode,
			PaymentStatus:     e.Node.DisplayFinancialStatus,
			FulfillmentStatus: e.Node.DisplayFulfillmentStatus,
		})
	}
	return orders, nil
}

func (c *ShopifyClient) ShopInfo(ctx context.Context) (*model.Shop, error) {
	var data struct {
		Shop struct {
			Name            string `json:"name"`
			CurrencyCode    string `json:"currencyCode"`
			MyshopifyDomain string `json:"myshopifyDomain"`
		} `json:"shop"`
	}
	if err := c.query(ctx, shopifyShopQuery, nil, &data); err != nil {
		return nil, err
	}

	return &model.Shop{
		Name:     data.Shop.Name,
		Domain:   data.Shop.MyshopifyDomain,
		Currency: data.Shop.CurrencyCode,
	}, nil
}

// query posts a GraphQL request. Every failure is reported as
// ErrUpstreamUnavailable with the cause attached as a value.
func (c *ShopifyClient) query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return goerr.Wrap(ErrUpstreamUnavailable, "failed to marshal shopify query", goerr.V("error", err.Error()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return goerr.Wrap(ErrUpstreamUnavailable, "failed to create shopify request", goerr.V("error", err.Error()))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(ErrUpstreamUnavailable, "shopify request failed", goerr.V("error", err.Error()))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return goerr.Wrap(ErrUpstreamUnavailable, "shopify returned an error status", goerr.V("status", resp.StatusCode))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return goerr.Wrap(ErrUpstreamUnavailable, "failed to decode shopify response", goerr.V("error", err.Error()))
	}
	if len(envelope.Errors) > 0 {
		return goerr.Wrap(ErrUpstreamUnavailable, "shopify graphql errors", goerr.V("message", envelope.Errors[0].Message))
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return goerr.Wrap(ErrUpstreamUnavailable, "shopify response has no data")
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return goerr.Wrap(ErrUpstreamUnavailable, "failed to decode shopify data", goerr.V("error", err.Error()))
	}
	return nil
}
