package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Aidin1998/orderbook-sync/internal/feed"
	"golang.org/x/time/rate"
)

const DefaultRESTURL = "https://api.exchange.coinbase.com"

// SnapshotClient fetches level 3 books over REST. Requests share one rate limiter
// because the exchange throttles the book endpoint per client.
type SnapshotClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewSnapshotClient allows perSecond requests; zero or less disables the limit.
func NewSnapshotClient(baseURL string, perSecond float64) *SnapshotClient {
	if baseURL == "" {
		baseURL = DefaultRESTURL
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &SnapshotClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// FetchBook implements booksync.SnapshotFetcher.
func (s *SnapshotClient) FetchBook(ctx context.Context, productID string) (*feed.BookSnapshot, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/products/%s/book?level=3", s.baseURL, url.PathEscape(productID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot %s: status %d", productID, resp.StatusCode)
	}

	var snap feed.BookSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode %s snapshot: %w", productID, err)
	}
	return &snap, nil
}
