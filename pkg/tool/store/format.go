package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m-mizutani/comanager/pkg/model"
)

const noData = "No data found."

func FormatProducts(products []*model.Product) string {
	if len(products) == 0 {
		return noData
	}

	var b strings.Builder
	b.WriteString("| Product | Status | Price | Inventory | Category |\n|---|---|---|---|---|\n")
	for _, p := range products {
		category := p.Category
		if category == "" {
			category = "N/A"
		}
		fmt.Fprintf(&b, "| %s | %s | %s %s | %d | %s |\n",
			cell(p.Title), cell(p.Status),
			strconv.FormatFloat(p.Price, 'f', -1, 64), p.Currency,
			p.Inventory, cell(category))
	}
	return b.String()
}

func FormatOrders(orders []*model.Order) string {
	if len(orders) == 0 {
		return noData
	}

	var b strings.Builder
	b.WriteString("| Order | Date | Total | Payment Status | Fulfillment |\n|---|---|---|---|---|\n")
	for _, o := range orders {
		fmt.Fprintf(&b, "| %s | %s | %s %s | %s | %s |\n",
			cell(o.OrderNumber), o.Date.Format("2006-01-02"),
			o.Total, o.Currency,
			cell(o.PaymentStatus), cell(o.FulfillmentStatus))
	}
	return b.String()
}

func FormatShop(shop *model.Shop) string {
	if shop == nil {
		return noData
	}
	return fmt.Sprintf("### Shop Information\n- **Name**: %s\n- **Domain**: %s\n- **Currency**: %s\n",
		shop.Name, shop.Domain, shop.Currency)
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
