// workers/settlement_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"rewards-ledger/logger"
	"rewards-ledger/models"
	"rewards-ledger/services"
)

// Settlement is one payment-rail outcome reported by the settlement feed.
type Settlement struct {
	DepositID  string    `json:"deposit_id"`
	Status     string    `json:"status"`
	ReportedAt time.Time `json:"reported_at"`
}

// DepositSettler is the part of the deposit processor the worker drives.
type DepositSettler interface {
	Confirm(ctx context.Context, depositID string) (*models.Deposit, bool, error)
	Fail(ctx context.Context, depositID string) (*models.Deposit, bool, error)
}

// SettlementClient reads the settlement feed.
type SettlementClient struct {
	FeedURL    string
	Token      string
	HTTPClient *http.Client
}

func NewSettlementClient(feedURL, token string) *SettlementClient {
	return &SettlementClient{
		FeedURL: feedURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *SettlementClient) GetSettlements(ctx context.Context, since time.Time) ([]Settlement, error) {
	u, err := url.Parse(c.FeedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call settlement feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("settlement feed returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Settlements []Settlement `json:"settlements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode settlement feed response: %w", err)
	}
	return response.Settlements, nil
}

// ApplySettlements feeds each reported outcome into the deposit processor in
// ReportedAt order and returns the cursor for the next poll. Rule rejections
// (unknown or already settled deposits) are logged and skipped; any other
// failure stops the batch and the returned cursor stays strictly before the
// failed settlement so the next poll fetches it again.
func ApplySettlements(ctx context.Context, settler DepositSettler, batch []Settlement, cursor time.Time) (time.Time, error) {
	ordered := make([]Settlement, len(batch))
	copy(ordered, batch)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ReportedAt.Before(ordered[j].ReportedAt)
	})

	for _, s := range ordered {
		var (
			applied bool
			err     error
		)
		switch s.Status {
		case string(models.DepositStatusCompleted):
			_, applied, err = settler.Confirm(ctx, s.DepositID)
		case string(models.DepositStatusFailed):
			_, applied, err = settler.Fail(ctx, s.DepositID)
		default:
			logger.Warnf("[SETTLE] Ignoring unknown status %q for deposit %s", s.Status, s.DepositID)
			continue
		}

		if err != nil {
			var le *services.LedgerError
			if !errors.As(err, &le) {
				if !cursor.Before(s.ReportedAt) {
					cursor = s.ReportedAt.Add(-time.Nanosecond)
				}
				return cursor, err
			}
			logger.Warnf("[SETTLE] Deposit %s not settled as %s: %v", s.DepositID, s.Status, err)
		} else if applied {
			logger.Infof("[SETTLE] Deposit %s settled as %s", s.DepositID, s.Status)
		}
		if s.ReportedAt.After(cursor) {
			cursor = s.ReportedAt
		}
	}
	return cursor, nil
}

// PollSettlements runs until ctx is cancelled.
func PollSettlements(ctx context.Context, client *SettlementClient, settler DepositSettler, pollInterval time.Duration) {
	logger.Info("Starting settlement polling")
	cursor := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Settlement polling stopped")
			return
		case <-ticker.C:
			batch, err := client.GetSettlements(ctx, cursor)
			if err != nil {
				logger.Errorf("[SETTLE] Error polling settlements: %v", err)
				continue
			}
			if len(batch) == 0 {
				continue
			}
			next, err := ApplySettlements(ctx, settler, batch, cursor)
			cursor = next
			if err != nil {
				logger.Errorf("[SETTLE] Settlement batch interrupted: %v", err)
				continue
			}
			logger.Infof("[SETTLE] Applied %d settlement(s), cursor=%s", len(batch), cursor.Format(time.RFC3339))
		}
	}
}
