// workers/member_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"rewards-ledger/logger"
	"rewards-ledger/models"
)

// RemoteMember is one entry of the identity provider's change feed.
type RemoteMember struct {
	ID               string    `json:"id"`
	ReferralCodeUsed string    `json:"referral_code_used,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// GetMemberChangesResponse is the top-level structure of the sync service response.
type GetMemberChangesResponse struct {
	Members []RemoteMember `json:"members"`
}

// AccountCreator is the part of the account registry the worker needs.
type AccountCreator interface {
	CreateAccount(ctx context.Context, accountID, referrerCode string) (*models.Account, error)
}

// MemberSyncWorker opens ledger accounts for members registered with the
// identity provider. Account creation is idempotent, so overlapping
// windows are harmless.
type MemberSyncWorker struct {
	accounts     AccountCreator
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
	since        time.Time
}

func NewMemberSyncWorker(accounts AccountCreator, syncServiceBaseURL, endpointPath, serviceToken string, interval time.Duration) *MemberSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &MemberSyncWorker{
		accounts:     accounts,
		interval:     interval,
		baseURL:      syncServiceBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *MemberSyncWorker) Start(ctx context.Context) {
	logger.Info("Starting member sync worker (identity provider -> accounts)")
	go w.run(ctx)
}

func (w *MemberSyncWorker) run(ctx context.Context) {
	if err := w.SyncOnce(ctx); err != nil {
		logger.Warnf("[SYNC] Initial member sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.SyncOnce(ctx); err != nil {
				logger.Errorf("[SYNC] Member sync batch failed: %v", err)
			}
		case <-ctx.Done():
			logger.Info("Member sync worker stopped")
			return
		}
	}
}

// SyncOnce fetches one batch of member changes and creates missing
// accounts. The cursor only advances past members that were stored.
func (w *MemberSyncWorker) SyncOnce(ctx context.Context) error {
	members, err := w.fetch(ctx, w.since)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		logger.Debugf("[SYNC] No member changes since %s", w.since.Format(time.RFC3339))
		return nil
	}

	var created, failed int
	cursor := w.since
	for _, m := range members {
		if m.ID == "" {
			continue
		}
		if _, err := w.accounts.CreateAccount(ctx, m.ID, m.ReferralCodeUsed); err != nil {
			failed++
			logger.Warnf("[SYNC] Failed to create account for member %s: %v", m.ID, err)
			continue
		}
		created++
		if m.UpdatedAt.After(cursor) {
			cursor = m.UpdatedAt
		}
	}
	if failed == 0 {
		w.since = cursor
	}

	logger.Infof("[SYNC] Synced %d member(s) (%d stored, %d errors), cursor=%s",
		len(members), created, failed, w.since.Format(time.RFC3339))
	return nil
}

func (w *MemberSyncWorker) fetch(ctx context.Context, since time.Time) ([]RemoteMember, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid sync service URL %q: %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpointURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to sync service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response GetMemberChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return response.Members, nil
}
