// Package venue implements the three venue clients: one writable (venue A,
// used for execution) and two read-only (venue B, venue C). Each exposes a
// uniform contract — ListMarkets, BatchQuotes, BookTop — plus, for venue A
// only, order placement, cancellation, and account queries.
//
// Every request is rate-limited via a TokenBucket, retried on 5xx/network
// errors by the underlying resty client, and authenticated per venue (HMAC
// nonce for A, RSA-PSS for C, none for B).
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"predxarb/internal/config"
	"predxarb/pkg/types"
)

// Client is the uniform read contract every venue implements.
type Client interface {
	Venue() types.Venue
	ListMarkets(ctx context.Context) ([]types.MarketDescriptor, error)
	BatchQuotes(ctx context.Context, marketIDs []string) ([]types.Quote, error)
	BookTop(ctx context.Context, marketID string) (types.BookTop, error)
}

// WritableClient adds execution methods, implemented only by venue A.
type WritableClient interface {
	Client
	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderReport, error)
	CancelOrder(ctx context.Context, orderID string) error
	OpenOrders(ctx context.Context) ([]types.OrderReport, error)
	OrderHistory(ctx context.Context) ([]types.OrderReport, error)
	Positions(ctx context.Context) ([]types.Position, error)
	AvailableBalance(ctx context.Context) (types.Balance, error)
}

// ————————————————————————————————————————————————————————————————————————
// Venue A — writable execution venue
// ————————————————————————————————————————————————————————————————————————

// AClient is the venue A REST client.
type AClient struct {
	http   *resty.Client
	auth   *VenueAAuth
	rl     *RateLimiter
	logger *slog.Logger

	balMu      sync.Mutex
	balCache   types.Balance
	balCacheAt time.Time
}

// NewAClient builds the venue A client.
func NewAClient(cfg config.VenueAConfig, auth *VenueAAuth, logger *slog.Logger) *AClient {
	httpClient := newHTTPClient(cfg.BaseURL)
	return &AClient{
		http:   httpClient,
		auth:   auth,
		rl:     NewWritableRateLimiter(150, 15, 50, 5),
		logger: logger,
	}
}

func (c *AClient) Venue() types.Venue { return types.VenueA }

func (c *AClient) signedRequest(ctx context.Context, method, path string) (*resty.Request, error) {
	headers, err := c.auth.Headers(path)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return c.http.R().SetContext(ctx).SetHeaders(headers), nil
}

type aMarketDTO struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

func (c *AClient) ListMarkets(ctx context.Context) ([]types.MarketDescriptor, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := c.signedRequest(ctx, http.MethodGet, "/v1/prediction-markets")
	if err != nil {
		return nil, err
	}
	var raw []aMarketDTO
	resp, err := req.SetResult(&raw).Get("/v1/prediction-markets")
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("list markets: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]types.MarketDescriptor, 0, len(raw))
	for _, m := range raw {
		out = append(out, types.MarketDescriptor{
			VenueMarketID: m.ID,
			Venue:         types.VenueA,
			Category:      types.Category(strings.ToLower(m.Category)),
			Title:         m.Title,
		})
	}
	return out, nil
}

type aQuoteDTO struct {
	MarketID string  `json:"marketId"`
	Bid      float64 `json:"bid"`
	Ask      float64 `json:"ask"`
	Last     float64 `json:"last"`
	BidDepth float64 `json:"bidDepth"`
	AskDepth float64 `json:"askDepth"`
}

func (c *AClient) BatchQuotes(ctx context.Context, marketIDs []string) ([]types.Quote, error) {
	if len(marketIDs) == 0 {
		return nil, nil
	}
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/v1/prediction-markets/quotes"
	req, err := c.signedRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	var raw []aQuoteDTO
	resp, err := req.
		SetQueryParam("ids", strings.Join(marketIDs, ",")).
		SetResult(&raw).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("batch quotes: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("batch quotes: status %d: %s", resp.StatusCode(), resp.String())
	}
	now := time.Now()
	out := make([]types.Quote, 0, len(raw))
	for _, q := range raw {
		out = append(out, types.Quote{
			Venue:     types.VenueA,
			MarketID:  q.MarketID,
			Bid:       decimal.NewFromFloat(q.Bid),
			Ask:       decimal.NewFromFloat(q.Ask),
			Last:      decimal.NewFromFloat(q.Last),
			BidDepth:  decimal.NewFromFloat(q.BidDepth),
			AskDepth:  decimal.NewFromFloat(q.AskDepth),
			HasDepth:  true,
			Timestamp: now,
		})
	}
	return out, nil
}

func (c *AClient) BookTop(ctx context.Context, marketID string) (types.BookTop, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return types.BookTop{}, err
	}
	path := "/v1/prediction-markets/book-top"
	req, err := c.signedRequest(ctx, http.MethodGet, path)
	if err != nil {
		return types.BookTop{}, err
	}
	var raw struct {
		Bid    float64 `json:"bid"`
		BidQty float64 `json:"bidQty"`
		Ask    float64 `json:"ask"`
		AskQty float64 `json:"askQty"`
	}
	resp, err := req.SetQueryParam("marketId", marketID).SetResult(&raw).Get(path)
	if err != nil {
		return types.BookTop{}, fmt.Errorf("book top: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.BookTop{}, fmt.Errorf("book top: status %d: %s", resp.StatusCode(), resp.String())
	}
	if raw.Bid == 0 && raw.Ask == 0 {
		return types.BookTop{Empty: true}, nil
	}
	return types.BookTop{
		Bid:      decimal.NewFromFloat(raw.Bid),
		BidQty:   decimal.NewFromFloat(raw.BidQty),
		Ask:      decimal.NewFromFloat(raw.Ask),
		AskQty:   decimal.NewFromFloat(raw.AskQty),
		OneSided: raw.Bid == 0 || raw.Ask == 0,
	}, nil
}

type aOrderDTO struct {
	MarketID string `json:"marketId"`
	Side     string `json:"side"`
	Outcome  string `json:"outcome"`
	Type     string `json:"type"`
	Quantity string `json:"quantity"`
	Price    string `json:"price"`
	TIF      string `json:"tif"`
	ClientID string `json:"clientOrderId"`
}

func (c *AClient) PlaceOrder(ctx context.Context, order types.OrderRequest) (types.OrderReport, error) {
	if err := c.rl.Write.Wait(ctx); err != nil {
		return types.OrderReport{}, err
	}
	path := "/v1/prediction-markets/order"
	req, err := c.signedRequest(ctx, http.MethodPost, path)
	if err != nil {
		return types.OrderReport{}, err
	}
	body := aOrderDTO{
		MarketID: order.MarketID,
		Side:     string(order.Side),
		Outcome:  string(order.Outcome),
		Type:     string(order.Type),
		Quantity: order.Quantity.String(),
		Price:    order.Price.String(),
		TIF:      string(order.TimeInForce),
		ClientID: order.IdempotencyKey,
	}
	var result struct {
		OrderID           string  `json:"orderId"`
		Status            string  `json:"status"`
		AvgExecutionPrice float64 `json:"avgExecutionPrice"`
		FilledQuantity    float64 `json:"filledQuantity"`
		RemainingQuantity float64 `json:"remainingQuantity"`
	}
	resp, err := req.SetBody(body).SetResult(&result).Post(path)
	if err != nil {
		return types.OrderReport{}, fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return types.OrderReport{}, fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return types.OrderReport{
		OrderID:           result.OrderID,
		Status:            result.Status,
		AvgExecutionPrice: decimal.NewFromFloat(result.AvgExecutionPrice),
		FilledQuantity:    decimal.NewFromFloat(result.FilledQuantity),
		RemainingQuantity: decimal.NewFromFloat(result.RemainingQuantity),
	}, nil
}

func (c *AClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.rl.Write.Wait(ctx); err != nil {
		return err
	}
	path := "/v1/prediction-markets/order/" + orderID
	req, err := c.signedRequest(ctx, http.MethodDelete, path)
	if err != nil {
		return err
	}
	resp, err := req.Delete(path)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *AClient) OpenOrders(ctx context.Context) ([]types.OrderReport, error) {
	return c.fetchOrders(ctx, "/v1/prediction-markets/orders/open")
}

func (c *AClient) OrderHistory(ctx context.Context) ([]types.OrderReport, error) {
	return c.fetchOrders(ctx, "/v1/prediction-markets/orders/history")
}

func (c *AClient) fetchOrders(ctx context.Context, path string) ([]types.OrderReport, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := c.signedRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		OrderID           string  `json:"orderId"`
		Status            string  `json:"status"`
		AvgExecutionPrice float64 `json:"avgExecutionPrice"`
		FilledQuantity    float64 `json:"filledQuantity"`
		RemainingQuantity float64 `json:"remainingQuantity"`
	}
	resp, err := req.SetResult(&raw).Get(path)
	if err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]types.OrderReport, 0, len(raw))
	for _, o := range raw {
		out = append(out, types.OrderReport{
			OrderID:           o.OrderID,
			Status:            o.Status,
			AvgExecutionPrice: decimal.NewFromFloat(o.AvgExecutionPrice),
			FilledQuantity:    decimal.NewFromFloat(o.FilledQuantity),
			RemainingQuantity: decimal.NewFromFloat(o.RemainingQuantity),
		})
	}
	return out, nil
}

func (c *AClient) Positions(ctx context.Context) ([]types.Position, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/v1/prediction-markets/positions"
	req, err := c.signedRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		MarketID  string  `json:"marketId"`
		Direction string  `json:"direction"`
		Quantity  float64 `json:"quantity"`
		AvgPrice  float64 `json:"avgPrice"`
	}
	resp, err := req.SetResult(&raw).Get(path)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, types.Position{
			VenueAMarket: p.MarketID,
			Direction:    types.Direction(p.Direction),
			Quantity:     decimal.NewFromFloat(p.Quantity),
			EntryPrice:   decimal.NewFromFloat(p.AvgPrice),
		})
	}
	return out, nil
}

// AvailableBalance returns the cached balance when younger than 30s, per spec.
func (c *AClient) AvailableBalance(ctx context.Context) (types.Balance, error) {
	c.balMu.Lock()
	if time.Since(c.balCacheAt) < 30*time.Second && !c.balCacheAt.IsZero() {
		bal := c.balCache
		c.balMu.Unlock()
		return bal, nil
	}
	c.balMu.Unlock()

	if err := c.rl.Read.Wait(ctx); err != nil {
		return types.Balance{}, err
	}
	path := "/v1/prediction-markets/balance"
	req, err := c.signedRequest(ctx, http.MethodGet, path)
	if err != nil {
		return types.Balance{}, err
	}
	var raw struct {
		Available float64 `json:"available"`
	}
	resp, err := req.SetResult(&raw).Get(path)
	if err != nil {
		return types.Balance{}, fmt.Errorf("available balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Balance{}, fmt.Errorf("available balance: status %d: %s", resp.StatusCode(), resp.String())
	}

	bal := types.Balance{Available: decimal.NewFromFloat(raw.Available), AsOf: time.Now()}
	c.balMu.Lock()
	c.balCache, c.balCacheAt = bal, time.Now()
	c.balMu.Unlock()
	return bal, nil
}

// ————————————————————————————————————————————————————————————————————————
// Venue B — read-only reference venue, unauthenticated
// ————————————————————————————————————————————————————————————————————————

// BClient is the venue B REST client. No authentication is required.
type BClient struct {
	http   *resty.Client
	rl     *RateLimiter
	logger *slog.Logger
}

func NewBClient(cfg config.VenueBConfig, logger *slog.Logger) *BClient {
	return &BClient{
		http:   newHTTPClient(cfg.BaseURL),
		rl:     NewRateLimiter(150, 15),
		logger: logger,
	}
}

func (c *BClient) Venue() types.Venue { return types.VenueB }

func (c *BClient) ListMarkets(ctx context.Context) ([]types.MarketDescriptor, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	var raw []struct {
		Slug     string `json:"slug"`
		Question string `json:"question"`
		Category string `json:"category"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&raw).Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("list markets: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]types.MarketDescriptor, 0, len(raw))
	for _, m := range raw {
		out = append(out, types.MarketDescriptor{
			VenueMarketID: m.Slug,
			Venue:         types.VenueB,
			Category:      types.Category(strings.ToLower(m.Category)),
			Title:         m.Question,
		})
	}
	return out, nil
}

func (c *BClient) BatchQuotes(ctx context.Context, marketIDs []string) ([]types.Quote, error) {
	if len(marketIDs) == 0 {
		return nil, nil
	}
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	var raw []struct {
		Slug string  `json:"slug"`
		Bid  float64 `json:"bid"`
		Ask  float64 `json:"ask"`
		Last float64 `json:"last"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("slugs", strings.Join(marketIDs, ",")).
		SetResult(&raw).Get("/markets/quotes")
	if err != nil {
		return nil, fmt.Errorf("batch quotes: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("batch quotes: status %d: %s", resp.StatusCode(), resp.String())
	}
	now := time.Now()
	out := make([]types.Quote, 0, len(raw))
	for _, q := range raw {
		out = append(out, types.Quote{
			Venue: types.VenueB, MarketID: q.Slug,
			Bid: decimal.NewFromFloat(q.Bid), Ask: decimal.NewFromFloat(q.Ask),
			Last: decimal.NewFromFloat(q.Last), Timestamp: now,
		})
	}
	return out, nil
}

func (c *BClient) BookTop(ctx context.Context, marketID string) (types.BookTop, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return types.BookTop{}, err
	}
	var raw struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	}
	resp, err := c.http.R().SetContext(ctx).SetQueryParam("slug", marketID).SetResult(&raw).Get("/markets/book-top")
	if err != nil {
		return types.BookTop{}, fmt.Errorf("book top: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.BookTop{}, fmt.Errorf("book top: status %d: %s", resp.StatusCode(), resp.String())
	}
	if raw.Bid == 0 && raw.Ask == 0 {
		return types.BookTop{Empty: true}, nil
	}
	return types.BookTop{Bid: decimal.NewFromFloat(raw.Bid), Ask: decimal.NewFromFloat(raw.Ask)}, nil
}

// ————————————————————————————————————————————————————————————————————————
// Venue C — read-only bracket-market reference venue, RSA-PSS authenticated
// ————————————————————————————————————————————————————————————————————————

// CClient is the venue C REST client.
type CClient struct {
	http   *resty.Client
	auth   *VenueCAuth
	rl     *RateLimiter
	logger *slog.Logger
}

func NewCClient(cfg config.VenueCConfig, auth *VenueCAuth, logger *slog.Logger) *CClient {
	return &CClient{
		http:   newHTTPClient(cfg.BaseURL),
		auth:   auth,
		rl:     NewRateLimiter(150, 15),
		logger: logger,
	}
}

func (c *CClient) Venue() types.Venue { return types.VenueC }

func (c *CClient) signedRequest(ctx context.Context, method, path string) (*resty.Request, error) {
	headers, err := c.auth.Headers(method, path)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return c.http.R().SetContext(ctx).SetHeaders(headers), nil
}

func (c *CClient) ListMarkets(ctx context.Context) ([]types.MarketDescriptor, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/brackets/markets"
	req, err := c.signedRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Category string `json:"category"`
	}
	resp, err := req.SetResult(&raw).Get(path)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("list markets: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]types.MarketDescriptor, 0, len(raw))
	for _, m := range raw {
		out = append(out, types.MarketDescriptor{
			VenueMarketID: m.ID, Venue: types.VenueC,
			Category: types.Category(strings.ToLower(m.Category)), Title: m.Title,
		})
	}
	return out, nil
}

func (c *CClient) BatchQuotes(ctx context.Context, marketIDs []string) ([]types.Quote, error) {
	if len(marketIDs) == 0 {
		return nil, nil
	}
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/brackets/quotes"
	req, err := c.signedRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID   string  `json:"id"`
		Bid  float64 `json:"bid"`
		Ask  float64 `json:"ask"`
		Last float64 `json:"last"`
	}
	resp, err := req.SetQueryParam("ids", strings.Join(marketIDs, ",")).SetResult(&raw).Get(path)
	if err != nil {
		return nil, fmt.Errorf("batch quotes: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("batch quotes: status %d: %s", resp.StatusCode(), resp.String())
	}
	now := time.Now()
	out := make([]types.Quote, 0, len(raw))
	for _, q := range raw {
		out = append(out, types.Quote{
			Venue: types.VenueC, MarketID: q.ID,
			Bid: decimal.NewFromFloat(q.Bid), Ask: decimal.NewFromFloat(q.Ask),
			Last: decimal.NewFromFloat(q.Last), Timestamp: now,
		})
	}
	return out, nil
}

func (c *CClient) BookTop(ctx context.Context, marketID string) (types.BookTop, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return types.BookTop{}, err
	}
	path := "/brackets/book-top"
	req, err := c.signedRequest(ctx, http.MethodGet, path)
	if err != nil {
		return types.BookTop{}, err
	}
	var raw struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	}
	resp, err := req.SetQueryParam("id", marketID).SetResult(&raw).Get(path)
	if err != nil {
		return types.BookTop{}, fmt.Errorf("book top: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.BookTop{}, fmt.Errorf("book top: status %d: %s", resp.StatusCode(), resp.String())
	}
	if raw.Bid == 0 && raw.Ask == 0 {
		return types.BookTop{Empty: true}, nil
	}
	return types.BookTop{Bid: decimal.NewFromFloat(raw.Bid), Ask: decimal.NewFromFloat(raw.Ask)}, nil
}

func newHTTPClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
}
