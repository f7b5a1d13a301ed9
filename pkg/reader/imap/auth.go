package imap

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"

	"github.com/lhyang/ynab-butler/pkg/api"
	"github.com/lhyang/ynab-butler/pkg/config"
)

// xoauth2Client implements the XOAUTH2 SASL mechanism used by Gmail and
// Outlook IMAP. go-sasl ships OAUTHBEARER but not this older scheme.
type xoauth2Client struct {
	username string
	token    string
}

var _ sasl.Client = (*xoauth2Client)(nil)

func (c *xoauth2Client) Start() (string, []byte, error) {
	resp := []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return "XOAUTH2", resp, nil
}

// Next handles the server's error challenge. Replying with an empty
// line makes the server finish the exchange with its tagged NO, which
// carries the actual error.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}

// authenticate logs in with the configured method. Credential failures
// wrap ErrAuth so the caller aborts instead of retrying per sender.
func authenticate(ctx context.Context, c *client.Client, cfg *config.Config) error {
	switch cfg.EmailAuthMethod {
	case "oauth":
		token, err := fetchAccessToken(ctx, cfg)
		if err != nil {
			return err
		}
		if err := c.Authenticate(&xoauth2Client{username: cfg.EmailAddress, token: token}); err != nil {
			return fmt.Errorf("XOAUTH2 rejected for %s: %v: %w", cfg.EmailAddress, err, api.ErrAuth)
		}
	default:
		if err := c.Login(cfg.EmailAddress, cfg.EmailPassword); err != nil {
			return fmt.Errorf("login rejected for %s: %v: %w", cfg.EmailAddress, err, api.ErrAuth)
		}
	}
	return nil
}

// fetchAccessToken exchanges the stored refresh token for a fresh
// access token before connecting.
func fetchAccessToken(ctx context.Context, cfg *config.Config) (string, error) {
	oc := &oauth2.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.OAuthTokenURL},
	}
	token, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.OAuthRefreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("refreshing access token: %v: %w", err, api.ErrAuth)
	}
	return token.AccessToken, nil
}
