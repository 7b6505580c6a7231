package square

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"
	"go.uber.org/multierr"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Client is the Square payment gateway used for hosted checkout links, order
// status lookups and refunds.
type Client struct {
	sdk           *sqclient.Client
	environment   string
	locationID    string
	redirectURL   string
	webhookSecret string
	logger        *logger.Logger
}

// settings is the trimmed, validated subset of SquareConfig the client keeps.
type settings struct {
	env           string
	accessToken   string
	locationID    string
	webhookSecret string
	redirectURL   string
}

// NewClient validates the Square configuration and builds the SDK client.
// Every missing setting is reported at once so a bad deploy fails with the
// full list.
func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("square logger is required")
	}
	s, err := readSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("square config: %w", err)
	}

	c := &Client{
		sdk: sqclient.NewClient(
			sqoption.WithBaseURL(baseURLs[s.env]),
			sqoption.WithToken(s.accessToken),
		),
		environment:   s.env,
		locationID:    s.locationID,
		redirectURL:   s.redirectURL,
		webhookSecret: s.webhookSecret,
		logger:        logg,
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"square_env":  s.env,
		"location_id": s.locationID,
	}), "square client initialized")
	return c, nil
}

func readSettings(cfg config.SquareConfig) (settings, error) {
	s := settings{
		env:           strings.ToLower(strings.TrimSpace(cfg.Env)),
		accessToken:   strings.TrimSpace(cfg.AccessToken),
		locationID:    strings.TrimSpace(cfg.LocationID),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		redirectURL:   strings.TrimSpace(cfg.RedirectURL),
	}
	if s.env == "" {
		s.env = sandboxEnv
	}

	var err error
	if _, ok := baseURLs[s.env]; !ok {
		err = multierr.Append(err, fmt.Errorf("environment must be %q or %q, got %q", sandboxEnv, productionEnv, s.env))
	}
	for _, required := range []struct{ name, value string }{
		{"access token", s.accessToken},
		{"location id", s.locationID},
		{"webhook secret", s.webhookSecret},
	} {
		if required.value == "" {
			err = multierr.Append(err, fmt.Errorf("%s is required", required.name))
		}
	}
	return s, err
}

// Environment reports the normalized Square environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signature key.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// idempotencyKey keeps a caller supplied key, which must be stable across
// retries, and otherwise mints a one-off key for the operation.
func idempotencyKey(op, provided string) string {
	if key := strings.TrimSpace(provided); key != "" {
		return key
	}
	return op + "-" + uuid.NewString()
}
