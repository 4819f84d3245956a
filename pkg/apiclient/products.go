package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/3leaps/inventoryctl/pkg/forecast"
)

// ListProducts returns the active company's catalog.
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var out []Product
	if err := c.do(ctx, request{op: "ListProducts", method: http.MethodGet, path: "/api/v1/products/"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateProduct(ctx context.Context, in ProductCreate) (*Product, error) {
	if strings.TrimSpace(in.SKU) == "" || strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("sku and name are required")
	}
	r, err := jsonRequest("CreateProduct", http.MethodPost, "/api/v1/products/", in)
	if err != nil {
		return nil, err
	}
	var out Product
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProduct(ctx context.Context, id int64, in ProductUpdate) (*Product, error) {
	if in.Empty() {
		return nil, fmt.Errorf("nothing to update")
	}
	r, err := jsonRequest("UpdateProduct", http.MethodPut, fmt.Sprintf("/api/v1/products/%d", id), in)
	if err != nil {
		return nil, err
	}
	var out Product
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteProduct(ctx context.Context, id int64) error {
	return c.do(ctx, request{op: "DeleteProduct", method: http.MethodDelete, path: fmt.Sprintf("/api/v1/products/%d", id)}, nil)
}

// ProductDashboard returns KPIs and the history/forecast chart of a product.
func (c *Client) ProductDashboard(ctx context.Context, productID int64) (*forecast.ProductDashboard, error) {
	var out forecast.ProductDashboard
	r := request{op: "ProductDashboard", method: http.MethodGet, path: fmt.Sprintf("/api/v1/dashboard/product/%d", productID)}
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
