package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/3leaps/inventoryctl/pkg/session"
)

// CreateCompany creates a company with the caller as its admin. Call
// RefreshSession afterwards to see it among the session's memberships.
func (c *Client) CreateCompany(ctx context.Context, name string) (*CompanyDetails, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("company name is required")
	}
	r, err := jsonRequest("CreateCompany", http.MethodPost, "/api/v1/company/", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	var out CompanyDetails
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompanyDetails returns the active company and its members.
func (c *Client) CompanyDetails(ctx context.Context) (*CompanyDetails, error) {
	var out CompanyDetails
	if err := c.do(ctx, request{op: "CompanyDetails", method: http.MethodGet, path: "/api/v1/company/"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InviteUser adds a user to the active company. Admin only.
func (c *Client) InviteUser(ctx context.Context, email string, role session.Role) (*session.UserProfile, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if role != session.RoleAdmin && role != session.RoleMember {
		return nil, fmt.Errorf("invalid role %q: expected admin or member", role)
	}
	r, err := jsonRequest("InviteUser", http.MethodPost, "/api/v1/company/invite", map[string]string{
		"email": email,
		"role":  string(role),
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
