package model

import "time"

// Product is a storefront product summary
type Product struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Status    string  `json:"status"`
	Inventory int     `json:"inventory"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	Category  string  `json:"category,omitempty"`
}

// Order is a storefront order summary
type Order struct {
	ID                string    `json:"id"`
	OrderNumber       string    `json:"order_number"`
	Date              time.Time `json:"date"`
	Total             string    `json:"total"`
	Currency          string    `json:"currency"`
	PaymentStatus     string    `json:"payment_status"`
	FulfillmentStatus string    `json:"fulfillment_status"`
}

// Shop is basic storefront information
type Shop struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Currency string `json:"currency"`
}
