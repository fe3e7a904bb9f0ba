package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lumenstack/logflow/logmodel"
)

// HTTPAuthBackend calls the Auth collaborator's credential-validation
// endpoint over HTTP.
type HTTPAuthBackend struct {
	baseURL    string
	headerName string
	client     *http.Client
}

// NewHTTPAuthBackend creates an HTTPAuthBackend targeting baseURL.
func NewHTTPAuthBackend(baseURL, headerName string, timeout time.Duration) *HTTPAuthBackend {
	return &HTTPAuthBackend{
		baseURL:    baseURL,
		headerName: headerName,
		client:     newAuthHTTPClient(timeout),
	}
}

// validateAPIKeyResponse is the union of fields the Auth collaborator
// may return; only the identity fields are required (Open Question 3).
type validateAPIKeyResponse struct {
	ProjectID      string `json:"project_id"`
	AccountID      string `json:"account_id"`
	Active         bool   `json:"active"`
	DailyQuota     *int64 `json:"daily_quota,omitempty"`
	RatePerMinute  *int   `json:"rate_per_minute,omitempty"`
	RatePerHour    *int   `json:"rate_per_hour,omitempty"`
	QuotaUsedToday *int64 `json:"quota_used_today,omitempty"`
}

// ValidateAPIKey resolves credential against the Auth collaborator.
func (b *HTTPAuthBackend) ValidateAPIKey(ctx context.Context, credential string) (logmodel.CredentialRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/internal/validate-api-key", nil)
	if err != nil {
		return logmodel.CredentialRecord{}, &AuthError{Kind: TransientAuth, Err: err}
	}
	req.Header.Set(b.headerName, credential)

	resp, err := b.client.Do(req)
	if err != nil {
		return logmodel.CredentialRecord{}, &AuthError{Kind: TransientAuth, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body validateAPIKeyResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return logmodel.CredentialRecord{}, &AuthError{Kind: TransientAuth, Err: err}
		}
		if !body.Active {
			return logmodel.CredentialRecord{}, &AuthError{
				Kind: PermanentAuth,
				Err:  fmt.Errorf("credential is not active"),
			}
		}
		rec := logmodel.CredentialRecord{
			ProjectID: body.ProjectID,
			AccountID: body.AccountID,
			Active:    body.Active,
		}
		if body.DailyQuota != nil {
			rec.DailyQuota = *body.DailyQuota
		}
		if body.RatePerMinute != nil {
			rec.RatePerMinute = *body.RatePerMinute
		}
		if body.RatePerHour != nil {
			rec.RatePerHour = *body.RatePerHour
		}
		if body.QuotaUsedToday != nil {
			rec.QuotaUsedToday = *body.QuotaUsedToday
		}
		return rec, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return logmodel.CredentialRecord{}, &AuthError{
			Kind: PermanentAuth,
			Err:  fmt.Errorf("auth collaborator rejected credential: %d", resp.StatusCode),
		}

	default:
		return logmodel.CredentialRecord{}, &AuthError{
			Kind: TransientAuth,
			Err:  fmt.Errorf("auth collaborator returned %d", resp.StatusCode),
		}
	}
}
