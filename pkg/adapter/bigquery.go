package adapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// BigQueryStorefront reads shop data exported to BigQuery tables. The
// dataset must hold products, orders and shop tables.
type BigQueryStorefront struct {
	client        *bigquery.Client
	dataset       string
	productsTable string
	ordersTable   string
	shopTable     string
}

// BigQueryOption is a functional option for BigQueryStorefront
type BigQueryOption func(*BigQueryStorefront)

func WithProductsTable(name string) BigQueryOption {
	return func(bq *BigQueryStorefront) {
		bq.productsTable = name
	}
}

func WithOrdersTable(name string) BigQueryOption {
	return func(bq *BigQueryStorefront) {
		bq.ordersTable = name
	}
}

func WithShopTable(name string) BigQueryOption {
	return func(bq *BigQueryStorefront) {
		bq.shopTable = name
	}
}

// NewBigQueryStorefront creates a Storefront backed by BigQuery
func NewBigQueryStorefront(ctx context.Context, projectID, datasetID string, opts ...BigQueryOption) (*BigQueryStorefront, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	bq := &BigQueryStorefront{
		client:        client,
		dataset:       projectID + "." + datasetID,
		productsTable: "products",
		ordersTable:   "orders",
		shopTable:     "shop",
	}

	for _, opt := range opts {
		opt(bq)
	}

	return bq, nil
}

func (bq *BigQueryStorefront) table(name string) string {
	return fmt.Sprintf("`%s.%s`", bq.dataset, name)
}

type bqProduct struct {
	ID        string  `bigquery:"id"`
	Title     string  `bigquery:"title"`
	Status    string  `bigquery:"status"`
	Inventory int64   `bigquery:"inventory"`
	Price     float64 `bigquery:"price"`
	Currency  string  `bigquery:"currency"`
	Category  string  `bigquery:"category"`
}

type bqOrder struct {
	ID                string    `bigquery:"id"`
	OrderNumber       string    `bigquery:"order_number"`
	CreatedAt         time.Time `bigquery:"created_at"`
	Total             float64   `bigquery:"total"`
	Currency          string    `bigquery:"currency"`
	PaymentStatus     string    `bigquery:"payment_status"`
	FulfillmentStatus string    `bigquery:"fulfillment_status"`
}

type bqShop struct {
	Name     string `bigquery:"name"`
	Domain   string `bigquery:"domain"`
	Currency string `bigquery:"currency"`
}

func (bq *BigQueryStorefront) ListProducts(ctx context.Context, limit int) ([]*model.Product, error) {
	q := bq.client.Query(fmt.Sprintf(
		"SELECT id, title, status, inventory, price, currency, category FROM %s ORDER BY title LIMIT @limit",
		bq.table(bq.productsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "limit", Value: limit}}

	rows, err := readRows[bqProduct](ctx, q)
	if err != nil {
		return nil, err
	}

	products := make([]*model.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, &model.Product{
			ID:        r.ID,
			Title:     r.Title,
			Status:    r.Status,
			Inventory: int(r.Inventory),
			Price:     r.Price,
			Currency:  r.Currency,
			Category:  r.Category,
		})
	}
	return products, nil
}

func (bq *BigQueryStorefront) ListRecentOrders(ctx context.Context, limit int) ([]*model.Order, error) {
	q := bq.client.Query(fmt.Sprintf(
		"SELECT id, order_number, created_at, total, currency, payment_status, fulfillment_status FROM %s ORDER BY created_at DESC LIMIT @limit",
		bq.table(bq.ordersTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "limit", Value: limit}}

	rows, err := readRows[bqOrder](ctx, q)
	if err != nil {
		return nil, err
	}

	orders := make([]*model.Order, 0, len(rows))
	for _, r := range rows {
		orders = append(orders, &model.Order{
			ID:                r.ID,
			OrderNumber:       r.OrderNumber,
			Date:              r.CreatedAt,
			Total:             strconv.FormatFloat(r.Total, 'f', 2, 64),
			Currency:          r.Currency,
			PaymentStatus:     r.PaymentStatus,
			FulfillmentStatus: r.FulfillmentStatus,
		})
	}
	return orders, nil
}

func (bq *BigQueryStorefront) ShopInfo(ctx context.Context) (*model.Shop, error) {
	q := bq.client.Query(fmt.Sprintf("SELECT name, domain, currency FROM %s LIMIT 1", bq.table(bq.shopTable)))

	rows, err := readRows[bqShop](ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, goerr.Wrap(ErrUpstreamUnavailable, "shop table is empty", goerr.V("table", bq.shopTable))
	}

	return &model.Shop{Name: rows[0].Name, Domain: rows[0].Domain, Currency: rows[0].Currency}, nil
}

// readRows runs the query, waits for completion and loads every row into T
func readRows[T any](ctx context.Context, q *bigquery.Query) ([]T, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return nil, goerr.Wrap(ErrUpstreamUnavailable, "failed to run query", goerr.V("error", err.Error()))
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, goerr.Wrap(ErrUpstreamUnavailable, "failed to wait for query completion", goerr.V("error", err.Error()))
	}
	if status.Err() != nil {
		return nil, goerr.Wrap(ErrUpstreamUnavailable, "query execution failed", goerr.V("error", status.Err().Error()))
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, goerr.Wrap(ErrUpstreamUnavailable, "failed to read query result", goerr.V("error", err.Error()))
	}

	var results []T
	for {
		var row T
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(ErrUpstreamUnavailable, "failed to iterate query result", goerr.V("error", err.Error()))
		}
		results = append(results, row)
	}

	return results, nil
}
