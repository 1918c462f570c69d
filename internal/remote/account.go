package remote

import (
	"context"
	"errors"
	"net/http"

	"github.com/ibeckermayer/post4me/internal/types"
)

// Profile returns the cached profile of the linked account.
func (c *Client) Profile(ctx context.Context) (types.Profile, error) {
	var p types.Profile
	err := c.call(ctx, "get profile", http.MethodGet, "/profile", nil, "", &p)
	return p, err
}

// FetchProfile asks the backend to re-read the profile from X. The backend
// records a follower snapshot as a side effect.
func (c *Client) FetchProfile(ctx context.Context) (types.ActionResult, error) {
	const op = "fetch profile"
	var body actionBody
	if err := c.call(ctx, op, http.MethodPost, "/profile/fetch", nil, "", &body); err != nil {
		var be *BusinessError
		if errors.As(err, &be) {
			return types.ActionResult{Success: false, Error: be.Message}, nil
		}
		return types.ActionResult{}, err
	}
	success := body.Error == ""
	if body.Success != nil {
		success = *body.Success
	}
	return types.ActionResult{Success: success, Error: body.Error}, nil
}

// ProfileStats returns the profile with its follower history.
func (c *Client) ProfileStats(ctx context.Context) (types.ProfileStats, error) {
	var s types.ProfileStats
	err := c.call(ctx, "get profile stats", http.MethodGet, "/profile/stats", nil, "", &s)
	return s, err
}

// EnvSettings returns the backend's flat configuration map.
func (c *Client) EnvSettings(ctx context.Context) (map[string]string, error) {
	values := map[string]string{}
	if err := c.call(ctx, "get env settings", http.MethodGet, "/settings/env", nil, "", &values); err != nil {
		return nil, err
	}
	return values, nil
}

// SaveEnvSettings writes the configuration map back.
func (c *Client) SaveEnvSettings(ctx context.Context, values map[string]string) error {
	const op = "save env settings"
	var resp struct {
		Error string `json:"error"`
	}
	if err := c.callJSON(ctx, op, http.MethodPost, "/settings/env", values, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return &BusinessError{Op: op, StatusCode: http.StatusOK, Message: resp.Error}
	}
	return nil
}

// Preferences returns the stored UI preferences (locale, theme).
func (c *Client) Preferences(ctx context.Context) (map[string]string, error) {
	prefs := map[string]string{}
	if err := c.call(ctx, "get preferences", http.MethodGet, "/settings/preferences", nil, "", &prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

func (c *Client) SavePreferences(ctx context.Context, prefs map[string]string) error {
	return c.callJSON(ctx, "save preferences", http.MethodPost, "/settings/preferences", prefs, nil)
}

// TestConnection asks the backend to log in to X with the stored credentials.
func (c *Client) TestConnection(ctx context.Context) (types.ConnectionCheck, error) {
	var res types.ConnectionCheck
	err := c.call(ctx, "test connection", http.MethodGet, "/settings/test-connection", nil, "", &res)
	return res, err
}

// CheckGoogle reports whether the automation browser is signed in to Google.
func (c *Client) CheckGoogle(ctx context.Context) (bool, error) {
	var res struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error"`
	}
	if err := c.call(ctx, "check google", http.MethodGet, "/settings/check-google", nil, "", &res); err != nil {
		return false, err
	}
	if res.Error != "" {
		return false, &BusinessError{Op: "check google", StatusCode: http.StatusOK, Message: res.Error}
	}
	return res.Connected, nil
}

// Logs returns the tail of the backend log.
func (c *Client) Logs(ctx context.Context) (string, error) {
	var res struct {
		Logs string `json:"logs"`
	}
	if err := c.call(ctx, "get logs", http.MethodGet, "/logs", nil, "", &res); err != nil {
		return "", err
	}
	return res.Logs, nil
}
