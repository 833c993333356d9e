package firecrawl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-api-key", WithBaseURL(srv.URL))
}

func TestScrape(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantTitle  string
		wantErr    bool
		wantStatus int
	}{
		{
			name: "happy path",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/scrape", r.URL.Path)
				assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var req ScrapeRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "https://example.com/pricing", req.URL)
				assert.Equal(t, []string{"markdown"}, req.Formats)
				assert.True(t, req.OnlyMainContent)

				w.Write([]byte(`{"success":true,"data":{"markdown":"# Pricing","metadata":{"title":"Pricing","statusCode":200,"sourceURL":"https://example.com/pricing"}}}`)) //nolint:errcheck
			},
			wantTitle: "Pricing",
		},
		{
			name: "auth error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"Unauthorized"}`)) //nolint:errcheck
			},
			wantErr:    true,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "overloaded",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantErr:    true,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name: "unsuccessful body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success":false,"error":"blocked"}`)) //nolint:errcheck
			},
			wantErr: true,
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{`)) //nolint:errcheck
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, tt.handler)
			resp, err := c.Scrape(context.Background(), ScrapeRequest{
				URL:             "https://example.com/pricing",
				OnlyMainContent: true,
			})
			if tt.wantErr {
				require.Error(t, err)
				if tt.wantStatus != 0 {
					var apiErr *APIError
					require.True(t, errors.As(err, &apiErr))
					assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, resp.Data.Metadata.Title)
			assert.Equal(t, "# Pricing", resp.Data.Markdown)
			assert.Equal(t, 200, resp.Data.Metadata.StatusCode)
		})
	}
}

func TestWithBaseURL_IgnoresEmpty(t *testing.T) {
	c := NewClient("k", WithBaseURL("")).(*httpClient)
	assert.Equal(t, defaultBaseURL, c.baseURL)
}
