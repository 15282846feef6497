package util

import "net/http"

// DefaultHTTPClient creates a default http.Client. Bulk items can be
// multi-gigabyte, so no overall timeout is set; callers cancel via the
// request context instead.
func DefaultHTTPClient() *http.Client {
	return &http.Client{}
}
