package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/3leaps/inventoryctl/pkg/session"
)

// Register creates an account. The new user belongs to no company yet.
func (c *Client) Register(ctx context.Context, email, password string) (*session.UserProfile, error) {
	r, err := jsonRequest("Register", http.MethodPost, "/api/v1/register", map[string]string{
		"email":    strings.TrimSpace(email),
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	var out session.UserProfile
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges credentials for a bearer token. It does not touch the
// session; see Authenticate.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	form := url.Values{}
	form.Set("username", strings.TrimSpace(email))
	form.Set("password", password)

	r := request{
		op:          "Login",
		method:      http.MethodPost,
		path:        "/api/v1/login/token",
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}
	var out LoginResponse
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return nil, &APIError{Op: "Login", StatusCode: http.StatusOK, Detail: "the API returned no access token", Err: ErrDecode}
	}
	return &out, nil
}

// Authenticate logs in and installs the resulting session in the store.
func (c *Client) Authenticate(ctx context.Context, email, password string) (*session.UserProfile, error) {
	resp, err := c.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.store.Login(ctx, resp.User, resp.AccessToken)
	return &resp.User, nil
}

// RegisterAndAuthenticate completes registration by logging the new account in.
func (c *Client) RegisterAndAuthenticate(ctx context.Context, email, password string) (*session.UserProfile, error) {
	if _, err := c.Register(ctx, email, password); err != nil {
		return nil, err
	}
	user, err := c.Authenticate(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("account created but login failed: %w", err)
	}
	return user, nil
}

// Me fetches the current user's profile.
func (c *Client) Me(ctx context.Context) (*session.UserProfile, error) {
	var out session.UserProfile
	if err := c.do(ctx, request{op: "Me", method: http.MethodGet, path: "/api/v1/users/me"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshSession re-syncs the stored user after memberships changed.
func (c *Client) RefreshSession(ctx context.Context) (*session.UserProfile, error) {
	user, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.store.RefreshUser(ctx, *user); err != nil {
		return nil, err
	}
	return user, nil
}
