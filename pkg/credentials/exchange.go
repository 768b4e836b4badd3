package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// RFC 8693 token exchange grant and token type identifiers.
const (
	grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	tokenTypeAccessToken   = "urn:ietf:params:oauth:token-type:access_token"
)

const maxExchangeResponseBytes = 1 << 20

type exchangeResponse struct {
	AccessToken     string `json:"access_token"`
	IssuedTokenType string `json:"issued_token_type"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int64  `json:"expires_in"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	Error           string `json:"error,omitempty"`
	ErrorDesc       string `json:"error_description,omitempty"`
}

// exchangeToken trades the user's subject token for a provider access token
// scoped to the configured audience.
func (b *Broker) exchangeToken(ctx context.Context, p Provider, subjectToken string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":         {grantTypeTokenExchange},
		"subject_token":      {subjectToken},
		"subject_token_type": {tokenTypeAccessToken},
		"client_id":          {p.ClientID},
		"client_secret":      {p.ClientSecret},
	}
	if p.Audience != "" {
		form.Set("audience", p.Audience)
	}
	if len(p.Scopes) > 0 {
		form.Set("scope", strings.Join(p.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange at %s: %w", p.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExchangeResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("exchange read response: %w", err)
	}

	var er exchangeResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("exchange decode response: status=%d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || er.AccessToken == "" {
		detail := er.Error
		if er.ErrorDesc != "" {
			detail = er.Error + ": " + er.ErrorDesc
		}
		if detail == "" {
			detail = fmt.Sprintf("status=%d", resp.StatusCode)
		}
		return nil, fmt.Errorf("exchange rejected: %s", detail)
	}

	tok := &oauth2.Token{
		AccessToken:  er.AccessToken,
		TokenType:    er.TokenType,
		RefreshToken: er.RefreshToken,
	}
	if er.ExpiresIn > 0 {
		tok.Expiry = b.now().Add(time.Duration(er.ExpiresIn) * time.Second)
	}
	return tok, nil
}
