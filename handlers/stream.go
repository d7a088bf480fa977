// handlers/stream.go
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rewards-ledger/logger"
	"rewards-ledger/middleware"
	"rewards-ledger/services"

	"github.com/gofiber/fiber/v2"
)

// StreamInterval is how often the balance stream polls for new entries.
var StreamInterval = 2 * time.Second

// StreamLedger pushes the caller's current balance, then every new ledger
// entry, as server-sent events.
func StreamLedger(accounts *services.AccountRegistry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accountID := middleware.CallerFrom(c).AccountID
		cursor, err := accounts.LatestEntryCursor(c.UserContext(), accountID)
		if err != nil {
			return writeError(c, "StreamLedger", err)
		}
		acct, err := accounts.Get(c.UserContext(), accountID)
		if err != nil {
			return writeError(c, "StreamLedger", err)
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		done := c.Context().Done()
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			writeEvent(w, "balance", fiber.Map{"balance": acct.Balance, "total_earned": acct.TotalEarned, "is_active": acct.IsActive})
			if err := w.Flush(); err != nil {
				return
			}
			streamEntries(w, accounts, accountID, cursor, StreamInterval, done)
		})
		return nil
	}
}

// streamEntries polls for journal rows after cursor and writes each as an
// "entry" event until done closes or the client goes away.
func streamEntries(w *bufio.Writer, accounts *services.AccountRegistry, accountID string, cursor services.EntryCursor, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			entries, err := accounts.EntriesAfter(context.Background(), accountID, cursor, 0)
			if err != nil {
				logger.Errorf("SSE query error for account %s: %v", accountID, err)
				continue
			}
			if len(entries) == 0 {
				// keepalive comment
				if _, err := w.WriteString(":\n\n"); err != nil {
					return
				}
			} else {
				cursor = services.CursorOf(entries[len(entries)-1])
				for _, e := range entries {
					writeEvent(w, "entry", e)
				}
			}
			if err := w.Flush(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeEvent(w *bufio.Writer, event string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("SSE encode error: %v", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
