package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relayhub/fanout/internal/apperr"
	"github.com/relayhub/fanout/internal/identity"
	"github.com/relayhub/fanout/internal/logger"
)

// upstreamVerifyResponse mirrors the upstream application server's
// verify-user response shape.
type upstreamVerifyResponse struct {
	Success bool `json:"success"`
	Data    struct {
		User struct {
			ID          int64    `json:"id"`
			Name        string   `json:"name"`
			Email       string   `json:"email"`
			Role        string   `json:"role"`
			Permissions []string `json:"permissions"`
		} `json:"user"`
	} `json:"data"`
}

// verifyOpaque forwards a bearer opaque token to the upstream
// application server's verification endpoint, retrying only on
// transport-level failures and 5xx responses with bounded exponential
// backoff, never past the caller's deadline.
func (v *Verifier) verifyOpaque(ctx context.Context, token string) (identity.Identity, error) {
	if v.cfg.UpstreamAPIURL == "" {
		return identity.Identity{}, apperr.UpstreamUnavailable(fmt.Errorf("upstream not configured"))
	}

	url := v.cfg.UpstreamAPIURL + "/api/websocket-api/verify-user"
	backoff := 100 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt < 4; attempt++ {
		select {
		case <-ctx.Done():
			return identity.Identity{}, apperr.UpstreamUnavailable(ctx.Err())
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
		if err != nil {
			return identity.Identity{}, apperr.UpstreamUnavailable(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-WebSocket-API-Key", v.cfg.UpstreamAPIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := v.httpClient.Do(req)
		if err != nil {
			lastErr = err
			logger.Auth().Warn().Err(err).Int("attempt", attempt).Msg("upstream verify transport error, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return identity.Identity{}, apperr.UpstreamUnavailable(ctx.Err())
			}
			backoff *= 2
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("upstream returned %d", resp.StatusCode)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return identity.Identity{}, apperr.UpstreamUnavailable(ctx.Err())
			}
			backoff *= 2
			continue
		}

		if resp.StatusCode >= 400 {
			return identity.Identity{}, apperr.AuthRejected(fmt.Sprintf("upstream status %d", resp.StatusCode))
		}

		var parsed upstreamVerifyResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return identity.Identity{}, apperr.New(apperr.CodeAuthMalformed, "upstream returned malformed response")
		}
		if !parsed.Success {
			return identity.Identity{}, apperr.AuthRejected("upstream reported failure")
		}

		role := identity.Role(parsed.Data.User.Role)
		if !role.Valid() {
			return identity.Identity{}, apperr.New(apperr.CodeAuthMalformed, fmt.Sprintf("unrecognized role %q", parsed.Data.User.Role))
		}

		return identity.Identity{
			UserID:      parsed.Data.User.ID,
			Role:        role,
			Permissions: parsed.Data.User.Permissions,
			Name:        parsed.Data.User.Name,
			Email:       parsed.Data.User.Email,
		}, nil
	}

	return identity.Identity{}, apperr.UpstreamUnavailable(lastErr)
}
