package openrouter

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAttributionHeaders(t *testing.T) {
	t.Parallel()

	cfg := &OpenRouterConfig{SiteURL: " https://buyer.example ", SiteName: "Ad Buyer"}
	headers := cfg.attributionHeaders()
	if headers["HTTP-Referer"] != "https://buyer.example" || headers["X-Title"] != "Ad Buyer" {
		t.Fatalf("unexpected headers: %v", headers)
	}
	if len((&OpenRouterConfig{}).attributionHeaders()) != 0 {
		t.Fatal("expected no headers without site settings")
	}
}

func TestHeaderTransport(t *testing.T) {
	t.Parallel()

	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Title")
	}))
	t.Cleanup(server.Close)

	client := &http.Client{Transport: &headerTransport{base: http.DefaultTransport, headers: map[string]string{"X-Title": "Ad Buyer"}}}
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got != "Ad Buyer" {
		t.Fatalf("X-Title = %q", got)
	}
}
