// Package contentapi submits item batches to the catalog API using its
// custombatch surface: one HTTP call per batch, one entry per item, with
// per-entry outcomes in the response.
package contentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/google/feedloader/internal/domain"
)

// HTTPError is a non-2xx response to a whole batch call.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("contentapi: status %d: %s", e.StatusCode, e.Body)
}

// SuggestRetry reports whether a batch call failure is worth redelivering.
// Auth failures are retried because tokens refresh; timeouts are treated
// like a request timeout. Anything else is considered permanent.
func SuggestRetry(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		switch he.StatusCode {
		case http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusInternalServerError:
			return true
		}
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := &Client{cfg: cfg, logger: logger}
	if cfg.DryRun {
		return client, nil
	}
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{"https://www.googleapis.com/auth/content"},
	}
	client.http = creds.Client(ctx)
	client.http.Timeout = cfg.Timeout
	return client, nil
}

type batchRequest struct {
	Entries []batchEntry `json:"entries"`
}

type batchEntry struct {
	BatchID    int64          `json:"batchId"`
	MerchantID string         `json:"merchantId"`
	Method     string         `json:"method"`
	ProductID  string         `json:"productId,omitempty"`
	Product    map[string]any `json:"product,omitempty"`
}

type batchResponse struct {
	Entries []struct {
		BatchID int64 `json:"batchId"`
		Errors  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"entries"`
}

// Submit uploads one batch of items and accounts for every row: submitted
// items come back as successes or per-item failures, and rows skipped
// before submission are reported as skipped.
func (c *Client) Submit(ctx context.Context, op domain.Operation, rows []domain.ItemRow, channel domain.Channel) (domain.ProcessResult, error) {
	if c == nil {
		return domain.ProcessResult{}, errors.New("contentapi: client not initialized")
	}
	req, itemByBatchID, skipped := c.buildBatch(op, rows, channel)
	result := domain.ProcessResult{SkippedItemIDs: skipped}
	if len(req.Entries) == 0 {
		return result, nil
	}

	if c.cfg.DryRun {
		c.logger.Info("dry run, skipping batch call", "operation", op.String(), "entries", len(req.Entries))
		for _, id := range itemByBatchID {
			result.SucceededItemIDs = append(result.SucceededItemIDs, id)
		}
		return result, nil
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return result, err
	}

	for _, entry := range resp.Entries {
		itemID, ok := itemByBatchID[entry.BatchID]
		if !ok {
			c.logger.Warn("response entry for unknown batch id", "batch_id", entry.BatchID)
			continue
		}
		if entry.Errors != nil {
			result.Failures = append(result.Failures, domain.Failure{
				ItemID: itemID,
				Error:  fmt.Sprintf("%d: %s", entry.Errors.Code, entry.Errors.Message),
			})
			continue
		}
		result.SucceededItemIDs = append(result.SucceededItemIDs, itemID)
	}
	return result, nil
}

// buildBatch converts rows to custombatch entries. Under a multi-client
// account a row without its own sub-account id cannot be routed and is
// skipped rather than failed.
func (c *Client) buildBatch(op domain.Operation, rows []domain.ItemRow, channel domain.Channel) (batchRequest, map[int64]string, []string) {
	var (
		req           batchRequest
		itemByBatchID = make(map[int64]string, len(rows))
		skipped       []string
	)
	for _, row := range rows {
		itemID := row.ItemID()
		if itemID == "" {
			continue
		}
		merchantID := c.cfg.MerchantID
		if c.cfg.IsMCA {
			merchantID = row.MerchantID()
			if merchantID == "" {
				skipped = append(skipped, itemID)
				continue
			}
		}
		batchID := int64(len(req.Entries))
		entry := batchEntry{
			BatchID:    batchID,
			MerchantID: merchantID,
			Method:     string(op.Method()),
		}
		switch op.Method() {
		case domain.MethodDelete:
			entry.ProductID = c.productID(itemID, channel)
		default:
			entry.Product = c.buildProduct(itemID, row, channel)
		}
		itemByBatchID[batchID] = itemID
		req.Entries = append(req.Entries, entry)
	}
	return req, itemByBatchID, skipped
}

func (c *Client) productID(itemID string, channel domain.Channel) string {
	return fmt.Sprintf("%s:%s:%s:%s", channel, c.cfg.ContentLanguage, c.cfg.TargetCountry, itemID)
}

func (c *Client) buildProduct(itemID string, row domain.ItemRow, channel domain.Channel) map[string]any {
	product := make(map[string]any, len(row)+4)
	for col, value := range row {
		switch col {
		case "item_id", "merchant_id":
			continue
		}
		if value == nil {
			continue
		}
		product[col] = value
	}
	product["offerId"] = itemID
	product["channel"] = string(channel)
	product["contentLanguage"] = c.cfg.ContentLanguage
	product["targetCountry"] = c.cfg.TargetCountry
	return product
}

func (c *Client) post(ctx context.Context, req batchRequest) (batchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return batchResponse{}, fmt.Errorf("contentapi: marshal batch: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/products/batch", bytes.NewReader(body))
	if err != nil {
		return batchResponse{}, fmt.Errorf("contentapi: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return batchResponse{}, fmt.Errorf("contentapi: batch call: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return batchResponse{}, fmt.Errorf("contentapi: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return batchResponse{}, &HTTPError{StatusCode: httpResp.StatusCode, Body: string(raw)}
	}
	var resp batchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return batchResponse{}, fmt.Errorf("contentapi: decode response: %w", err)
	}
	return resp, nil
}
