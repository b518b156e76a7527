package decoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

// Log tags emitted by the Deriverse program.
const (
	TagSpotPlaceOrder = 10
	TagSpotFillOrder  = 11
	TagSpotFees       = 15
	TagPerpPlaceOrder = 18
	TagPerpFillOrder  = 19
	TagPerpFees       = 23
)

// HTTPDecoder is a client for a decoding sidecar that runs the protocol's
// log parser. It posts the raw log lines and maps the returned records into
// domain events.
type HTTPDecoder struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPDecoder creates a decoder client for the sidecar at url.
func NewHTTPDecoder(url, apiKey string, timeout time.Duration) *HTTPDecoder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDecoder{
		url:    url,
		apiKey: strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type decodeRequest struct {
	Logs []string `json:"logs"`
}

type decodeResponse struct {
	Events []record `json:"events"`
	Error  string   `json:"error,omitempty"`
}

// record mirrors the sidecar's flattened event object. Only the fields used
// by the pipeline are decoded.
type record struct {
	Tag       int     `json:"tag"`
	Side      int     `json:"side"`
	OrderType int     `json:"orderType"`
	InstrID   uint32  `json:"instrId"`
	IOC       int     `json:"ioc"`
	Leverage  int     `json:"leverage"`
	Price     float64 `json:"price"`
	Qty       float64 `json:"qty"`
	Perps     float64 `json:"perps"`
	Rebates   float64 `json:"rebates"`
	Fees      float64 `json:"fees"`
}

// Decode sends logLines to the sidecar. Transport failures and non-2xx
// statuses other than 422 wrap domain.ErrDecoderUnavailable; a 422 or an
// error message in the body means the logs did not parse.
func (d *HTTPDecoder) Decode(ctx context.Context, logLines []string) ([]domain.LogEvent, error) {
	if len(logLines) == 0 {
		return nil, nil
	}

	jsonBody, err := json.Marshal(decodeRequest{Logs: logLines})
	if err != nil {
		return nil, fmt.Errorf("decoder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("decoder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w: %w", domain.ErrDecoderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decoder: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("decoder: rejected: %s", strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("decoder: %w: HTTP %d: %s", domain.ErrDecoderUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out decodeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoder: decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("decoder: %s", out.Error)
	}

	events := make([]domain.LogEvent, 0, len(out.Events))
	for _, r := range out.Events {
		if ev, ok := r.toEvent(); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// toEvent maps a sidecar record to a domain event. Unknown tags are ignored.
func (r record) toEvent() (domain.LogEvent, bool) {
	switch r.Tag {
	case TagSpotPlaceOrder:
		return domain.PlaceOrderEvent{
			Market:       domain.MarketSpot,
			InstrumentID: r.InstrID,
			Side:         sideOf(r.Side),
			OrderType:    r.OrderType,
			IOC:          r.IOC == 1,
			Leverage:     1,
		}, true
	case TagPerpPlaceOrder:
		lev := r.Leverage
		if lev <= 0 {
			lev = 1
		}
		return domain.PlaceOrderEvent{
			Market:       domain.MarketPerp,
			InstrumentID: r.InstrID,
			Side:         sideOf(r.Side),
			OrderType:    r.OrderType,
			IOC:          r.IOC == 1,
			Leverage:     lev,
		}, true
	case TagSpotFillOrder:
		return domain.FillEvent{
			Market:       domain.MarketSpot,
			InstrumentID: r.InstrID,
			Side:         sideOf(r.Side),
			Price:        r.Price,
			Quantity:     r.Qty,
			Rebate:       r.Rebates,
		}, true
	case TagPerpFillOrder:
		return domain.FillEvent{
			Market:       domain.MarketPerp,
			InstrumentID: r.InstrID,
			Side:         sideOf(r.Side),
			Price:        r.Price,
			Quantity:     r.Perps,
			Rebate:       r.Rebates,
		}, true
	case TagSpotFees:
		return domain.FeeEvent{Market: domain.MarketSpot, Amount: math.Abs(r.Fees)}, true
	case TagPerpFees:
		return domain.FeeEvent{Market: domain.MarketPerp, Amount: math.Abs(r.Fees)}, true
	default:
		return nil, false
	}
}

// sideOf maps the program's side encoding (0 bid, 1 ask).
func sideOf(v int) domain.Side {
	if v == 0 {
		return domain.SideBuy
	}
	return domain.SideSell
}

var _ domain.EventDecoder = (*HTTPDecoder)(nil)
