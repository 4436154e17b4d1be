package ali

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(rt http.RoundTripper) *Client {
	return New(Config{
		BaseURL:        "https://gw.example/router/rest",
		AppKey:         "app",
		AppSecret:      "secret",
		TrackingID:     "track",
		Currency:       "ILS",
		Language:       "HE",
		RetryBaseDelay: time.Millisecond,
		HTTPClient:     &http.Client{Transport: rt},
		Now: func() time.Time {
			return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)
}

const sampleSearch = `{"aliexpress_affiliate_product_query_response":{"resp_result":{"result":{"products":{"product":[{"product_title":"Charger","target_sale_price":"10"}]}}}}}`

func TestSearchRetriesTimeoutsThenFails(t *testing.T) {
	var calls int32
	client := newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, timeoutError{}
	}))

	_, err := client.Search(context.Background(), "charger", SearchOptions{})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if calls != 3 || netErr.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got calls=%d attempts=%d", calls, netErr.Attempts)
	}
}

func TestSearchRecoversAfterOneTimeout(t *testing.T) {
	var calls int32
	client := newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, timeoutError{}
		}
		return jsonResponse(http.StatusOK, sampleSearch), nil
	}))

	products, err := client.Search(context.Background(), "charger", SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if len(products) != 1 || products[0].Title != "Charger" {
		t.Fatalf("unexpected products %+v", products)
	}
}

func TestSearchDoesNotRetryUpstreamError(t *testing.T) {
	var calls int32
	payload := `{"error_response":{"code":15,"msg":"Remote service error","sub_msg":"` + strings.Repeat("x", 2000) + `"}}`
	client := newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return jsonResponse(http.StatusOK, payload), nil
	}))

	_, err := client.Search(context.Background(), "charger", SearchOptions{})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	if len(upErr.Snippet) > maxSnippet {
		t.Fatalf("snippet not truncated: %d chars", len(upErr.Snippet))
	}
}

func TestSearchDoesNotRetryOtherTransportErrors(t *testing.T) {
	var calls int32
	client := newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("tls: bad certificate")
	}))

	_, err := client.Search(context.Background(), "charger", SearchOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		t.Fatalf("non-network failure must not be a NetworkError: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}

func TestSearchHTTPErrorStatusIsUpstream(t *testing.T) {
	client := newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, "bad gateway"), nil
	}))
	_, err := client.Search(context.Background(), "charger", SearchOptions{})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) || upErr.Status != http.StatusBadGateway {
		t.Fatalf("expected 502 UpstreamError, got %v", err)
	}
}

func TestSearchNoResultsIsNotAnError(t *testing.T) {
	client := newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"aliexpress_affiliate_product_query_response":{"resp_result":{"resp_code":405}}}`), nil
	}))
	products, err := client.Search(context.Background(), "nothing", SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("expected no products, got %d", len(products))
	}
}

func TestSearchSendsSignedProtocolFields(t *testing.T) {
	var captured *http.Request
	client := newTestClient(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		captured = r
		return jsonResponse(http.StatusOK, sampleSearch), nil
	}))
	if _, err := client.Search(context.Background(), "מטען", SearchOptions{}); err != nil {
		t.Fatalf("search: %v", err)
	}

	q := captured.URL.Query()
	expect := map[string]string{
		"method":          MethodProductQuery,
		"app_key":         "app",
		"sign_method":     "md5",
		"format":          "json",
		"v":               "2.0",
		"timestamp":       "2026-01-02 11:04:05",
		"keywords":        "מטען",
		"page_no":         "1",
		"page_size":       "40",
		"target_currency": "ILS",
		"target_language": "HE",
		"tracking_id":     "track",
	}
	for key, want := range expect {
		if got := q.Get(key); got != want {
			t.Fatalf("%s: expected %q, got %q", key, want, got)
		}
	}
	if q.Has("sort") {
		t.Fatal("empty sort must not be sent")
	}

	params := Params{}
	for key := range q {
		if key != "sign" {
			params[key] = q.Get(key)
		}
	}
	if got := Sign(params, "secret", SignMD5); got != q.Get("sign") {
		t.Fatalf("signature mismatch: sent %s, recomputed %s", q.Get("sign"), got)
	}
}

func TestResolveLinksBatchesSources(t *testing.T) {
	var captured *http.Request
	client := newTestClient(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		captured = r
		return jsonResponse(http.StatusOK, `{"aliexpress_affiliate_link_generate_response":{"resp_result":{"result":{"promotion_links":{"promotion_link":[
			{"source_value":"https://b","promotion_link":"https://s/b"},
			{"source_value":"https://a","promotion_link":"https://s/a"}]}}}}}`), nil
	}))

	links, err := client.ResolveLinks(context.Background(), []string{"https://a", "", "https://b", "https://a"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := captured.URL.Query().Get("source_values"); got != "https://a,https://b" {
		t.Fatalf("unexpected source_values %q", got)
	}
	if got := captured.URL.Query().Get("promotion_link_type"); got != "0" {
		t.Fatalf("unexpected promotion_link_type %q", got)
	}
	if links["https://a"] != "https://s/a" || links["https://b"] != "https://s/b" {
		t.Fatalf("unexpected links %v", links)
	}
}

func TestResolveLinksWithoutSourcesSkipsCall(t *testing.T) {
	client := newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	}))
	links, err := client.ResolveLinks(context.Background(), []string{" ", ""})
	if err != nil || len(links) != 0 {
		t.Fatalf("expected empty map, got %v %v", links, err)
	}
}

func TestNotConfigured(t *testing.T) {
	client := New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)
	if _, err := client.Search(context.Background(), "x", SearchOptions{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *memoryCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = raw
	return nil
}

func TestSearchUsesCache(t *testing.T) {
	var calls int32
	client := newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return jsonResponse(http.StatusOK, sampleSearch), nil
	}))
	client.cache = &memoryCache{data: map[string][]byte{}}
	client.cfg.CacheTTL = time.Minute

	for i := 0; i < 2; i++ {
		products, err := client.Search(context.Background(), "Charger", SearchOptions{})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(products) != 1 || products[0].Title != "Charger" {
			t.Fatalf("unexpected products %+v", products)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls)
	}
}
