package rest

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string          `json:"token"`
	TokenType string          `json:"token_type,omitempty"`
	User      json.RawMessage `json:"user"`
}

type AuthClient struct {
	*Client
}

func NewAuthClient(c *Client) *AuthClient {
	return &AuthClient{Client: c}
}

func (c *AuthClient) Login(ctx context.Context, in LoginRequest) Result[LoginResponse] {
	return result[LoginResponse](ctx, c.Client, jsonCall(http.MethodPost, "/login", "", in))
}

func (c *AuthClient) Logout(ctx context.Context, token string) Result[Empty] {
	return result[Empty](ctx, c.Client, call{method: http.MethodPost, path: "/logout", token: token})
}

// Me returns the signed in user exactly as the API sends it.
func (c *AuthClient) Me(ctx context.Context, token string) Result[json.RawMessage] {
	return result[json.RawMessage](ctx, c.Client, call{method: http.MethodGet, path: "/user", token: token})
}
