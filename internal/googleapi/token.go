package googleapi

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/and161185/agent-keeper/internal/errs"
)

// UserInfo is the profile behind an access token.
type UserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

// Token is an access token known to be accepted by Google.
type Token struct {
	AccessToken string `json:"-"`
	UserID      string `json:"userId"`
	AvatarURL   string `json:"avatarUrl"`
	// Refreshed is set when AccessToken came from the refresh grant.
	Refreshed bool `json:"refreshed"`
}

// UserInfo fetches the profile for accessToken. A rejected token is a
// *StatusError with status 401.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (UserInfo, error) {
	var out UserInfo
	err := c.do(ctx, c.http, http.MethodGet, c.cfg.UserInfoURL, "userinfo", accessToken, nil, &out)
	return out, err
}

// Refresh exchanges refreshToken for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", errs.ErrNoRefreshToken
	}
	if c.oauth == nil {
		return "", errs.ErrOAuthNotConfigured
	}
	octx := context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauth.TokenSource(octx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("refresh token: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: refresh token: %v", errs.ErrUpstream, err)
	}
	return tok.AccessToken, nil
}

// ValidToken checks accessToken and, when it is missing or rejected, refreshes
// it and checks the new one.
func (c *Client) ValidToken(ctx context.Context, accessToken, refreshToken string) (Token, error) {
	if accessToken != "" {
		info, err := c.UserInfo(ctx, accessToken)
		if err == nil {
			return Token{AccessToken: accessToken, UserID: info.ID, AvatarURL: info.Picture}, nil
		}
		if ctx.Err() != nil {
			return Token{}, err
		}
		c.log.Info("access token rejected, refreshing", zap.Error(err))
	}
	fresh, err := c.Refresh(ctx, refreshToken)
	if err != nil {
		return Token{}, err
	}
	info, err := c.UserInfo(ctx, fresh)
	if err != nil {
		return Token{}, fmt.Errorf("verify refreshed token: %w", err)
	}
	return Token{AccessToken: fresh, UserID: info.ID, AvatarURL: info.Picture, Refreshed: true}, nil
}
