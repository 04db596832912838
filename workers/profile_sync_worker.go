// workers/profile_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"stylo-battle-system/models"

	"gorm.io/gorm"
)

// ProfileChange matches the JSON response from the profile sync service.
type ProfileChange struct {
	ExternalID        string    `json:"external_id"`
	Username          string    `json:"username"`
	ProfilePictureURL *string   `json:"profile_picture_url,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// GetProfileChangesResponse is the top-level structure of the sync response.
type GetProfileChangesResponse struct {
	Users []ProfileChange `json:"users"`
}

// ProfileSyncWorker mirrors display names and avatars from the profile
// service onto participants. Participants store denormalized copies so the
// scoreboard never needs a cross-service call; this worker keeps them fresh.
type ProfileSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewProfileSyncWorker(db *gorm.DB, syncServiceBaseURL, endpointPath, serviceToken string) *ProfileSyncWorker {
	return &ProfileSyncWorker{
		db:           db,
		interval:     1 * time.Minute,
		baseURL:      syncServiceBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *ProfileSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Profile Sync Worker (profile service → participants)…")
	go w.run(ctx)
}

func (w *ProfileSyncWorker) run(ctx context.Context) {
	lastSync := time.Unix(0, 0)
	if err := w.syncBatch(ctx, lastSync); err != nil {
		log.Printf("⚠️ Initial profile sync failed: %v", err)
	} else {
		lastSync = time.Now()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			since := lastSync
			if err := w.syncBatch(ctx, since); err != nil {
				log.Printf("❌ Profile sync batch failed: %v", err)
				continue
			}
			lastSync = time.Now()
		case <-ctx.Done():
			log.Println("⏹️ Profile Sync Worker stopped")
			return
		}
	}
}

// syncBatch fetches profile changes since the cursor and updates every
// participant row carrying that external user id.
func (w *ProfileSyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	sinceStr := since.UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid profile sync service URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, "GET", finalURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request to profile sync service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("[SYNC] ❌ Profile service returned %d for %s: %s", resp.StatusCode, finalURL, string(body))
		return fmt.Errorf("profile sync service non-200 response: %d", resp.StatusCode)
	}

	var response GetProfileChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode profile sync response: %w", err)
	}
	if len(response.Users) == 0 {
		return nil
	}

	var updated, errored int
	for _, change := range response.Users {
		updates := map[string]interface{}{
			"avatar_url": change.ProfilePictureURL,
			"updated_at": time.Now(),
		}
		res := w.db.Model(&models.Participant{}).
			Where("external_user_id = ?", change.ExternalID).
			Updates(updates)
		if res.Error != nil {
			errored++
			log.Printf("[SYNC] ⚠️ Failed to update participants for external_id=%q: %v",
				change.ExternalID, res.Error)
			continue
		}
		updated += int(res.RowsAffected)
	}

	log.Printf("[SYNC] ✅ Applied %d profile change(s) to %d participant row(s) (%d errors)",
		len(response.Users), updated, errored)
	return nil
}
