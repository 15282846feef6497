// Package catalog fetches the product listing from the EPO bulk-data API
// and decodes it into typed deliveries and items. The pipeline treats it
// as a pure data source: no retry or backoff.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/epo-tools/epoparquet/internal/config"
)

// Product is one downloadable data product and its deliveries.
type Product struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Deliveries  []Delivery `json:"deliveries"`
}

// Delivery is one published batch of items.
type Delivery struct {
	ID                  int    `json:"deliveryId"`
	Name                string `json:"deliveryName"`
	PublicationDatetime string `json:"deliveryPublicationDatetime"`
	ExpiryDatetime      string `json:"deliveryExpiryDatetime,omitempty"`
	Items               []Item `json:"items"`
}

// Item identifies one downloadable file. Immutable once received.
type Item struct {
	ID                  int    `json:"itemId"`
	Name                string `json:"itemName"`
	FileSize            string `json:"fileSize"`
	FileChecksum        string `json:"fileChecksum"`
	PublicationDatetime string `json:"itemPublicationDatetime"`
}

// ProductURL builds the catalog endpoint for a product.
func ProductURL(baseURL string, productID int) string {
	return fmt.Sprintf("%s/products/%d", baseURL, productID)
}

// DownloadURL builds the download endpoint for one item of a delivery.
func DownloadURL(baseURL string, productID, deliveryID, itemID int) string {
	return fmt.Sprintf("%s/products/%d/delivery/%d/item/%d/download",
		baseURL, productID, deliveryID, itemID)
}

// FetchProduct retrieves and decodes the product listing.
func FetchProduct(ctx context.Context, client *http.Client, cfg config.Config) (*Product, error) {
	apiURL := ProductURL(cfg.BaseURL, cfg.ProductID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create catalog request %s: %w", apiURL, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch product data from %s: %w", apiURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("bad status %q fetching %s: %s", resp.Status, apiURL, string(body))
	}

	var product Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return nil, fmt.Errorf("parse product JSON from %s: %w", apiURL, err)
	}
	return &product, nil
}
