package models

import (
	"time"

	"golang.org/x/oauth2"
)

type IntegrationStatus string

const (
	IntegrationConnected    IntegrationStatus = "connected"
	IntegrationExpired      IntegrationStatus = "expired"
	IntegrationDisconnected IntegrationStatus = "disconnected"
)

// Integration is a user's connected account for a provider.
type Integration struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"       validate:"required"`
	Provider     string            `json:"provider"      validate:"required"`
	AccessToken  string            `json:"access_token"  validate:"required"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	TokenType    string            `json:"token_type,omitempty"`
	Expiry       time.Time         `json:"expiry"`
	Scopes       []string          `json:"scopes,omitempty"`
	Status       IntegrationStatus `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Token converts the stored credentials into an oauth2 token.
func (i *Integration) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  i.AccessToken,
		RefreshToken: i.RefreshToken,
		TokenType:    i.TokenType,
		Expiry:       i.Expiry,
	}
}

// SetToken stores a refreshed token. An empty refresh token keeps the
// previous one, as most providers only rotate it occasionally.
func (i *Integration) SetToken(token *oauth2.Token) {
	i.AccessToken = token.AccessToken
	i.TokenType = token.TokenType
	i.Expiry = token.Expiry

	if token.RefreshToken != "" {
		i.RefreshToken = token.RefreshToken
	}

	i.Status = IntegrationConnected
}
