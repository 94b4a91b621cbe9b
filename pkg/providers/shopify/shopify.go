// Package shopify integrates Shopify store webhooks and the Admin API.
package shopify

import (
	"strings"

	"github.com/dukex/triggerhub/pkg/providerapi"
)

const (
	Provider    = "shopify"
	APIVersion  = "2024-01"
	tokenHeader = "X-Shopify-Access-Token"
)

const (
	NewOrder    = "shopify:new_order"
	NewCustomer = "shopify:new_customer"
)

var topics = map[string]string{
	NewOrder:    "orders/create",
	NewCustomer: "customers/create",
}

// ClientFactory returns the Admin API client of a shop.
type ClientFactory func(shop string) *providerapi.Client

// AdminClients builds clients for https://{shop}/admin/api/{version}.
func AdminClients(opts ...providerapi.Option) ClientFactory {
	return func(shop string) *providerapi.Client {
		options := append([]providerapi.Option{providerapi.WithTokenHeader(tokenHeader)}, opts...)

		return providerapi.New(Provider, "https://"+normalizeShop(shop)+"/admin/api/"+APIVersion, options...)
	}
}

func normalizeShop(shop string) string {
	shop = strings.TrimPrefix(strings.TrimPrefix(shop, "https://"), "http://")

	return strings.TrimSuffix(shop, "/")
}
