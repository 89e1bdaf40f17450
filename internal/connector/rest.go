package connector

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/pkg/ratelimit"
)

// REST talks to a USD-margined futures venue over its REST API. Order
// submission is paced by a token bucket sized to the venue's published
// limits; HTTP status codes map onto the package's typed errors so the
// engine's retry policy stays venue-agnostic.
type REST struct {
	name    string
	client  *resty.Client
	limiter ratelimit.RateLimiter
	log     *logrus.Entry
}

// NewREST builds a venue client. apiKey is resolved from the secret store
// by the caller; ordersPerSecond of zero disables pacing.
func NewREST(name, baseURL, apiKey string, ordersPerSecond float64, log *logrus.Entry) *REST {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("X-MBX-APIKEY", apiKey).
		SetRetryCount(0) // the engine owns retries, with idempotent IDs

	var limiter ratelimit.RateLimiter
	if ordersPerSecond > 0 {
		burst := int(ordersPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = ratelimit.NewTokenBucket(burst, burst)
	}
	return &REST{name: name, client: client, limiter: limiter, log: log}
}

func (r *REST) Name() string { return r.name }

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	ExecutedQty string `json:"executedQty"`
	AvgPrice    string `json:"avgPrice"`
	UpdateTime  int64  `json:"updateTime"`
}

type venueError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// SubmitOrder places a market order. The client order ID rides along as
// newClientOrderId, so a retried submission the venue already accepted is
// rejected as a duplicate rather than doubled.
func (r *REST) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return OrderResult{}, &NetworkError{Venue: r.name, Err: err}
		}
	}

	// req.Side is the trade direction: for closes the caller already
	// passes the opposite of the position side.
	side := "BUY"
	if req.Side == domain.SideShort {
		side = "SELL"
	}

	var ok orderResponse
	var fail venueError
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":           req.Symbol,
			"side":             side,
			"type":             "MARKET",
			"quantity":         strconv.FormatFloat(req.Size, 'f', -1, 64),
			"newClientOrderId": req.ClientOrderID,
			"reduceOnly":       strconv.FormatBool(req.ReduceOnly),
		}).
		SetResult(&ok).
		SetError(&fail).
		Post("/fapi/v1/order")
	if err != nil {
		return OrderResult{}, &NetworkError{Venue: r.name, Err: err}
	}
	if resp.IsError() {
		return OrderResult{}, r.asTyped(resp, fail)
	}

	filled, _ := strconv.ParseFloat(ok.ExecutedQty, 64)
	avg, _ := strconv.ParseFloat(ok.AvgPrice, 64)
	return OrderResult{
		OrderID:    strconv.FormatInt(ok.OrderID, 10),
		FilledSize: filled,
		AvgPrice:   avg,
		Timestamp:  time.UnixMilli(ok.UpdateTime),
	}, nil
}

type positionRisk struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
}

// Positions fetches the venue's open positions for reconciliation.
func (r *REST) Positions(ctx context.Context) ([]VenuePosition, error) {
	var risks []positionRisk
	var fail venueError
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&risks).
		SetError(&fail).
		Get("/fapi/v2/positionRisk")
	if err != nil {
		return nil, &NetworkError{Venue: r.name, Err: err}
	}
	if resp.IsError() {
		return nil, r.asTyped(resp, fail)
	}

	out := make([]VenuePosition, 0, len(risks))
	for _, p := range risks {
		amt, err := strconv.ParseFloat(p.PositionAmt, 64)
		if err != nil || amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		side := domain.SideLong
		if amt < 0 {
			side, amt = domain.SideShort, -amt
		}
		out = append(out, VenuePosition{
			Symbol:     p.Symbol,
			Side:       side,
			Size:       amt,
			EntryPrice: entry,
		})
	}
	return out, nil
}

func (r *REST) asTyped(resp *resty.Response, fail venueError) error {
	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Venue: r.name, Detail: fail.Msg}
	case http.StatusTooManyRequests:
		retry := time.Second
		if s := resp.Header().Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				retry = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitedError{Venue: r.name, RetryAfter: retry}
	default:
		if resp.StatusCode() >= 500 {
			return &NetworkError{Venue: r.name, Err: errors.Errorf("status %d: %s", resp.StatusCode(), fail.Msg)}
		}
		return &RejectedError{
			Venue:  r.name,
			Code:   strconv.Itoa(fail.Code),
			Reason: fail.Msg,
		}
	}
}

var _ Connector = (*REST)(nil)
