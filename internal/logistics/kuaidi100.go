// Package logistics queries carrier tracking data from the kuaidi100 API.
package logistics

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/mixmall/api/internal/domain"
)

const (
	defaultKuaidi100Endpoint = "https://poll.kuaidi100.com/poll/query.do"
	defaultQueryTimeout      = 10 * time.Second

	traceTimeLayout = "2006-01-02 15:04:05"
)

// Carrier scan timestamps come back as local Chinese wall-clock strings.
var carrierZone = time.FixedZone("CST", 8*60*60)

var (
	// ErrTrackingUnavailable wraps transport failures against the tracking API.
	ErrTrackingUnavailable = errors.New("logistics: tracking unavailable")
	// ErrTrackingFailed is returned when the tracking API rejects the query.
	ErrTrackingFailed = errors.New("logistics: tracking query failed")
)

// QueryRequest identifies one shipment to look up.
type QueryRequest struct {
	ShipperCode    string
	TrackingNumber string
	Phone          string
}

// QueryResult carries the normalised trace for a shipment.
type QueryResult struct {
	// State is the carrier-reported shipment state code ("3" means delivered).
	State  string
	Traces []domain.LogisticsTrace
}

// Kuaidi100Client signs and submits tracking queries.
type Kuaidi100Client struct {
	endpoint string
	customer string
	key      string
	client   *http.Client
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// Kuaidi100Option customises the client.
type Kuaidi100Option func(*Kuaidi100Client)

// WithHTTPClient overrides the HTTP client used for queries.
func WithHTTPClient(client *http.Client) Kuaidi100Option {
	return func(c *Kuaidi100Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithEndpoint overrides the query endpoint (primarily for tests).
func WithEndpoint(endpoint string) Kuaidi100Option {
	return func(c *Kuaidi100Client) {
		if strings.TrimSpace(endpoint) != "" {
			c.endpoint = endpoint
		}
	}
}

// WithLogger sets a structured logging seam.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) Kuaidi100Option {
	return func(c *Kuaidi100Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewKuaidi100Client constructs a client for the given account credentials.
func NewKuaidi100Client(customer, key string, opts ...Kuaidi100Option) (*Kuaidi100Client, error) {
	customer = strings.TrimSpace(customer)
	key = strings.TrimSpace(key)
	if customer == "" || key == "" {
		return nil, errors.New("logistics: kuaidi100 customer and key are required")
	}

	client := &Kuaidi100Client{
		endpoint: defaultKuaidi100Endpoint,
		customer: customer,
		key:      key,
		client:   &http.Client{Timeout: defaultQueryTimeout},
		logger:   func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type queryParam struct {
	Com     string `json:"com"`
	Num     string `json:"num"`
	Phone   string `json:"phone"`
	ResultV string `json:"resultv2"`
	Show    string `json:"show"`
	Order   string `json:"order"`
}

type queryResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	State   string `json:"state"`
	Data    []struct {
		Time    string `json:"time"`
		Context string `json:"context"`
	} `json:"data"`
}

// Query fetches the scan trace for a shipment, newest first.
func (c *Kuaidi100Client) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	code := strings.TrimSpace(req.ShipperCode)
	number := strings.TrimSpace(req.TrackingNumber)
	if code == "" || number == "" {
		return QueryResult{}, fmt.Errorf("%w: shipper code and tracking number are required", ErrTrackingFailed)
	}

	param, err := json.Marshal(queryParam{
		Com:     code,
		Num:     number,
		Phone:   strings.TrimSpace(req.Phone),
		ResultV: "0",
		Show:    "0",
		Order:   "desc",
	})
	if err != nil {
		return QueryResult{}, fmt.Errorf("%w: encode param: %v", ErrTrackingFailed, err)
	}

	form := url.Values{}
	form.Set("customer", c.customer)
	form.Set("sign", c.sign(param))
	form.Set("param", string(param))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return QueryResult{}, fmt.Errorf("%w: %v", ErrTrackingUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return QueryResult{}, fmt.Errorf("%w: %v", ErrTrackingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return QueryResult{}, fmt.Errorf("%w: unexpected status %d", ErrTrackingUnavailable, resp.StatusCode)
	}

	var body queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return QueryResult{}, fmt.Errorf("%w: decode response: %v", ErrTrackingUnavailable, err)
	}
	if body.Status != "200" {
		c.logger(ctx, "logistics.kuaidi100.rejected", map[string]any{
			"status":  body.Status,
			"message": body.Message,
			"shipper": code,
		})
		return QueryResult{}, fmt.Errorf("%w: %s", ErrTrackingFailed, body.Message)
	}

	traces := make([]domain.LogisticsTrace, 0, len(body.Data))
	for _, item := range body.Data {
		trace := domain.LogisticsTrace{Context: strings.TrimSpace(item.Context)}
		if ts, err := time.ParseInLocation(traceTimeLayout, strings.TrimSpace(item.Time), carrierZone); err == nil {
			trace.Time = ts.UTC()
		}
		traces = append(traces, trace)
	}

	return QueryResult{State: body.State, Traces: traces}, nil
}

// sign computes the uppercase md5 digest the API expects over param+key+customer.
func (c *Kuaidi100Client) sign(param []byte) string {
	digest := md5.Sum([]byte(string(param) + c.key + c.customer))
	return strings.ToUpper(fmt.Sprintf("%x", digest))
}
