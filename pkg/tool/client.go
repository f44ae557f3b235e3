package tool

import (
	"github.com/m-mizutani/comanager/pkg/adapter"
)

// Client contains shared resources that tools can use
type Client struct {
	Storefront adapter.Storefront
}
