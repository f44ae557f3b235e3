package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/comanager/pkg/adapter"
	"github.com/m-mizutani/gt"
)

func TestBigQueryStorefront(t *testing.T) {
	projectID := os.Getenv("TEST_BIGQUERY_PROJECT")
	if projectID == "" {
		t.Skip("TEST_BIGQUERY_PROJECT is not set")
	}

	datasetID := os.Getenv("TEST_BIGQUERY_DATASET")
	if datasetID == "" {
		t.Skip("TEST_BIGQUERY_DATASET is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewBigQueryStorefront(ctx, projectID, datasetID)
	gt.NoError(t, err)

	t.Run("ListProducts", func(t *testing.T) {
		products, err := client.ListProducts(ctx, 3)
		gt.NoError(t, err)
		gt.True(t, len(products) <= 3)
		t.Logf("Products: %d", len(products))
	})

	t.Run("ListRecentOrders", func(t *testing.T) {
		orders, err := client.ListRecentOrders(ctx, 5)
		gt.NoError(t, err)
		for i := 1; i < len(orders); i++ {
			gt.False(t, orders[i].Date.After(orders[i-1].Date))
		}
	})

	t.Run("ShopInfo", func(t *testing.T) {
		shop, err := client.ShopInfo(ctx)
		gt.NoError(t, err)
		gt.NotEqual(t, shop.Name, "")
	})
}
