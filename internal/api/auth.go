package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// RoleAdmin is the only role the portal distinguishes.
const RoleAdmin = "admin"

// TokenResponse is the body of a successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// RegisterRequest is the registration form, sent as-is.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
	Role      string `json:"role"`
}

// User is the current-user record. Fields the portal does not know are
// kept in Raw and readable with Field.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`

	Raw json.RawMessage `json:"-"`
}

// IsAdmin reports whether the user may delete patients.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Field returns the value at a gjson path in the raw record.
func (u *User) Field(path string) string {
	if u == nil {
		return ""
	}
	return gjson.GetBytes(u.Raw, path).String()
}

// Attribute is one top-level field of the raw record.
type Attribute struct {
	Key   string
	Value string
}

// Attributes lists the top-level fields of the raw record in server order.
func (u *User) Attributes() []Attribute {
	if u == nil || len(u.Raw) == 0 {
		return nil
	}
	var attrs []Attribute
	gjson.ParseBytes(u.Raw).ForEach(func(key, value gjson.Result) bool {
		attrs = append(attrs, Attribute{Key: key.String(), Value: value.String()})
		return true
	})
	return attrs
}

func decodeUser(body []byte) (*User, error) {
	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	user.Raw = append(json.RawMessage(nil), body...)
	return &user, nil
}

// Login exchanges credentials for an access token. The credentials are
// sent form-encoded.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := c.newRequest(ctx, http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do("auth_login", req)
	if err != nil {
		return "", err
	}

	var tokenResp TokenResponse
	if err := resp.JSON(&tokenResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("login response has no access_token")
	}
	return tokenResp.AccessToken, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, in RegisterRequest) (*User, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/auth/register", in)
	if err != nil {
		return nil, err
	}

	resp, err := c.do("auth_register", req)
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, nil
	}
	return decodeUser(resp.Body)
}

// CurrentUser fetches the record of the user the default token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do("auth_me", req)
	if err != nil {
		return nil, err
	}
	return decodeUser(resp.Body)
}
