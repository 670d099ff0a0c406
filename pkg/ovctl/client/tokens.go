package client

import (
	"context"
	"net/http"

	"github.com/arbitra-ai/oversight/pkg/capability"
)

// MintToken requests a new capability token.
func (c *Client) MintToken(ctx context.Context, req capability.MintRequest) (string, error) {
	var resp capability.MintResponse
	if err := c.do(ctx, http.MethodPost, "/api/tokens", req, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// VerifyToken checks a token string and returns its payload when valid.
func (c *Client) VerifyToken(ctx context.Context, tokenString string) (*capability.VerifyResponse, error) {
	var resp capability.VerifyResponse
	body := capability.TokenStringRequest{Token: tokenString}
	if err := c.do(ctx, http.MethodPost, "/api/tokens/verify", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CanPerform asks whether a token permits an action on a tool.
func (c *Client) CanPerform(ctx context.Context, tokenString, toolID, action string) (bool, error) {
	var resp capability.CanPerformResponse
	body := capability.CanPerformRequest{Token: tokenString, ToolID: toolID, Action: action}
	if err := c.do(ctx, http.MethodPost, "/api/tokens/can-perform", body, &resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

// RevokeToken revokes a token string.
func (c *Client) RevokeToken(ctx context.Context, tokenString string) error {
	body := capability.TokenStringRequest{Token: tokenString}
	return c.do(ctx, http.MethodPost, "/api/tokens/revoke", body, nil)
}
