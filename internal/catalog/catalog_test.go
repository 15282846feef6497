package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/epo-tools/epoparquet/internal/config"
)

const productJSON = `{
  "id": 3,
  "name": "EP full text data",
  "description": "Front files",
  "deliveries": [
    {
      "deliveryId": 101,
      "deliveryName": "Week 07",
      "deliveryPublicationDatetime": "2024-02-15T00:00:00Z",
      "items": [
        {
          "itemId": 5001,
          "itemName": "EPRTBJV2024000007001001.zip",
          "fileSize": "12.4 MB",
          "fileChecksum": "2AAE6C35C94FCFB415DBE95F408B9CE91EE846ED",
          "itemPublicationDatetime": "2024-02-15T00:00:00Z"
        }
      ]
    }
  ]
}`

func TestFetchProduct(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(productJSON))
	}))
	defer srv.Close()

	cfg := config.Config{BaseURL: srv.URL, ProductID: 3}
	product, err := FetchProduct(context.Background(), srv.Client(), cfg)
	if err != nil {
		t.Fatalf("FetchProduct: %v", err)
	}

	if gotPath != "/products/3" {
		t.Errorf("request path = %s, want /products/3", gotPath)
	}
	if product.ID != 3 || product.Name != "EP full text data" {
		t.Errorf("unexpected product header: %+v", product)
	}
	if len(product.Deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(product.Deliveries))
	}
	d := product.Deliveries[0]
	if d.ID != 101 || len(d.Items) != 1 {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	item := d.Items[0]
	if item.ID != 5001 || item.FileSize != "12.4 MB" || item.Name != "EPRTBJV2024000007001001.zip" {
		t.Errorf("unexpected item: %+v", item)
	}
}

func TestFetchProductBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such product", http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := config.Config{BaseURL: srv.URL, ProductID: 99}
	if _, err := FetchProduct(context.Background(), srv.Client(), cfg); err == nil {
		t.Error("FetchProduct on 404 succeeded, want error")
	}
}

func TestDownloadURL(t *testing.T) {
	got := DownloadURL("https://example.org/api", 3, 101, 5001)
	want := "https://example.org/api/products/3/delivery/101/item/5001/download"
	if got != want {
		t.Errorf("DownloadURL = %s, want %s", got, want)
	}
}
