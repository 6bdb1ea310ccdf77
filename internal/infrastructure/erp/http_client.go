// Package erp is the HTTP adapter to the merchant ERP.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	pricesPath          = "/api/v1/prices/query"
	maxErpResponseSize  = 8 << 20
	defaultTimeout      = 15 * time.Second
	defaultMaxIDsPerReq = 100
)

// Config configures the HTTP client
type Config struct {
	BaseURL            string
	APIKey             string
	RequestTimeout     time.Duration
	RateLimitPerSecond float64
	MaxIDsPerRequest   int
}

// HTTPClient implements pricesync.ErpClient against the ERP REST API
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewHTTPClient creates an ERP client. A non-positive rate limit disables limiting.
func NewHTTPClient(cfg Config, logger *zap.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("erp: base URL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	if cfg.MaxIDsPerRequest <= 0 {
		cfg.MaxIDsPerRequest = defaultMaxIDsPerReq
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimitPerSecond > 0 {
		burst := max(int(cfg.RateLimitPerSecond), 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}

	return &HTTPClient{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
		logger:  logger,
	}, nil
}

type pricesRequest struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	ExternalIDs []string  `json:"external_ids"`
}

type priceItem struct {
	ExternalID  string          `json:"external_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type pricesResponse struct {
	Items []priceItem `json:"items"`
}

// FetchPrices queries the ERP in chunks of MaxIDsPerRequest. Any chunk
// failure aborts the whole call.
func (c *HTTPClient) FetchPrices(ctx context.Context, tenantID uuid.UUID, externalIDs []string) ([]pricesync.ErpProduct, error) {
	out := make([]pricesync.ErpProduct, 0, len(externalIDs))
	for start := 0; start < len(externalIDs); start += c.cfg.MaxIDsPerRequest {
		end := min(start+c.cfg.MaxIDsPerRequest, len(externalIDs))
		items, err := c.fetchChunk(ctx, tenantID, externalIDs[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (c *HTTPClient) fetchChunk(ctx context.Context, tenantID uuid.UUID, ids []string) ([]pricesync.ErpProduct, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", pricesync.ErrErpTimeout, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	body, err := c.post(reqCtx, tenantID, pricesPath, pricesRequest{TenantID: tenantID, ExternalIDs: ids})
	if err != nil {
		return nil, err
	}

	var resp pricesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode prices: %v", pricesync.ErrErpBadResponse, err)
	}

	observed := time.Now().UTC()
	products := make([]pricesync.ErpProduct, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.ExternalID == "" {
			return nil, fmt.Errorf("%w: item without external_id", pricesync.ErrErpBadResponse)
		}
		products = append(products, pricesync.ErpProduct{
			TenantID:    tenantID,
			ExternalID:  it.ExternalID,
			Name:        it.Name,
			Description: it.Description,
			Price:       it.Price,
			Stock:       it.Stock,
			UpdatedAt:   it.UpdatedAt,
			ObservedAt:  observed,
		})
	}

	c.logger.Debug("erp prices fetched",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("requested", len(ids)),
		zap.Int("returned", len(products)),
	)
	return products, nil
}

func (c *HTTPClient) post(ctx context.Context, tenantID uuid.UUID, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("erp: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("erp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID.String())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErpResponseSize))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	return body, nil
}

func classifyStatus(code int) error {
	switch {
	case code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", pricesync.ErrErpUnauthorized, code)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", pricesync.ErrErpRateLimited, code)
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		return fmt.Errorf("%w: HTTP %d", pricesync.ErrErpTimeout, code)
	case code >= 500:
		return fmt.Errorf("%w: HTTP %d", pricesync.ErrErpUnavailable, code)
	default:
		return fmt.Errorf("%w: HTTP %d", pricesync.ErrErpBadResponse, code)
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", pricesync.ErrErpTimeout, err)
	}
	return fmt.Errorf("%w: %v", pricesync.ErrErpUnavailable, err)
}

var _ pricesync.ErpClient = (*HTTPClient)(nil)
