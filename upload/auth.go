package upload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// TokenProvider hands out a bearer token valid for the next request. May
// block while refreshing. Invalidate drops any cached token after the server
// answered 401 so the next call performs a fresh login.
type TokenProvider interface {
	GetValidToken() (string, error)
	Invalidate()
}

// StaticTokenProvider serves a fixed token, for tests and deployments where
// token rotation happens outside this process.
type StaticTokenProvider string

func (s StaticTokenProvider) GetValidToken() (string, error) { return string(s), nil }
func (s StaticTokenProvider) Invalidate()                    {}

/**
LoginTokenProvider logs in against the collector's login endpoint with
username/password credentials and caches the bearer token it returns in the
Authorization response header.
*/
type LoginTokenProvider struct {
	Endpoint string // e.g. https://collector.example.com/api/v3/login
	Username string
	Password string
	Client   *http.Client

	mu    sync.Mutex
	token string
}

func (p *LoginTokenProvider) GetValidToken() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" {
		return p.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"username": p.Username,
		"password": p.Password,
	})
	req, err := http.NewRequest(http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", classifyTransport(err, false)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return "", newApiError(KindUnauthorized, resp.StatusCode, "login rejected", nil)
	case http.StatusPreconditionRequired:
		return "", newApiError(KindAccountNotActivated, resp.StatusCode, "account not activated", nil)
	default:
		return "", newApiError(KindUnexpectedResponseCode, resp.StatusCode, "unexpected login response", nil)
	}

	token := strings.TrimPrefix(resp.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return "", newApiError(KindUnexpectedResponseCode, resp.StatusCode, "login response without token", nil)
	}
	p.token = token
	return token, nil
}

func (p *LoginTokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}
