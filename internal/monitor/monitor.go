// Package monitor registers external uptime checks with a ClouDNS-style
// monitoring API. Registration is one-shot: each check becomes a single form
// POST to the add-monitor endpoint and nothing is remembered afterwards.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/rotd/internal/config"
	"github.com/roach88/rotd/internal/fault"
)

// DefaultEndpoint is the ClouDNS add-monitor API.
const DefaultEndpoint = "https://panel.cloudns.net/api/json/monitoring/add-monitor/"

var validate = validator.New()

// Check is one monitor to create.
type Check struct {
	Name   string            `json:"name" validate:"required,max=128"`
	Type   string            `json:"type" validate:"required,oneof=web ping tcp udp dns heartbeat ssl smtp imap streaming keyword"`
	Host   string            `json:"host" validate:"required,hostname_rfc1123|ip|url"`
	Params map[string]string `json:"params,omitempty"`
}

// Validate checks the fields required by the API.
func (c Check) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fault.New(fault.KindConfig, "monitor check", c.Name, err)
	}
	for k := range c.Params {
		switch k {
		case "auth-id", "auth-password", "sub-auth-id", "sub-auth-user", "name", "type", "host":
			return fault.Newf(fault.KindConfig, "monitor check", "%s: param %q overrides a reserved field", c.Name, k)
		}
	}
	return nil
}

// Response is the API's reply to one registration.
type Response struct {
	Status      string `json:"status"`
	Description string `json:"statusDescription"`
	ID          any    `json:"id,omitempty"`
}

// Result pairs a check with its registration outcome.
type Result struct {
	Check    string    `json:"check"`
	Response *Response `json:"response,omitempty"`
	Err      error     `json:"-"`
}

// Client posts monitor registrations.
type Client struct {
	Endpoint string
	AuthID   string
	AuthPass string
	HTTP     *http.Client
	Timeout  time.Duration
	Logger   *slog.Logger
}

// FromConfig builds a Client with credentials taken from the environment
// variables named in cfg. Missing credentials are a CONFIG_ERROR.
func FromConfig(cfg config.MonitorsConfig, logger *slog.Logger) (*Client, error) {
	id := os.Getenv(cfg.AuthIDEnv)
	pass := os.Getenv(cfg.AuthPassEnv)
	if id == "" || pass == "" {
		return nil, fault.Newf(fault.KindConfig, "monitor credentials", "set %s and %s", cfg.AuthIDEnv, cfg.AuthPassEnv)
	}
	return &Client{
		Endpoint: cfg.Endpoint,
		AuthID:   id,
		AuthPass: pass,
		Timeout:  cfg.Timeout,
		Logger:   logger,
	}, nil
}

// Checks converts configured checks.
func Checks(cfg config.MonitorsConfig) []Check {
	out := make([]Check, 0, len(cfg.Checks))
	for _, c := range cfg.Checks {
		out = append(out, Check{Name: c.Name, Type: c.Type, Host: c.Host, Params: c.Params})
	}
	return out
}

func (c *Client) endpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Register creates one monitor. Network failures, non-2xx replies and API
// replies with status "Failed" are TRANSPORT_ERROR faults.
func (c *Client) Register(ctx context.Context, check Check) (*Response, error) {
	if err := check.Validate(); err != nil {
		return nil, err
	}

	form := url.Values{}
	keys := make([]string, 0, len(check.Params))
	for k := range check.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set(k, check.Params[k])
	}
	form.Set("auth-id", c.AuthID)
	form.Set("auth-password", c.AuthPass)
	form.Set("name", check.Name)
	form.Set("type", check.Type)
	form.Set("host", check.Host)

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fault.New(fault.KindConfig, "monitor register", check.Name, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fault.New(fault.KindTransport, "monitor register", check.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fault.New(fault.KindTransport, "monitor register", check.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fault.New(fault.KindTransport, "monitor register", check.Name,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fault.New(fault.KindTransport, "monitor register", check.Name, fmt.Errorf("decode reply: %w", err))
	}
	if strings.EqualFold(out.Status, "Failed") {
		return &out, fault.New(fault.KindTransport, "monitor register", check.Name,
			fmt.Errorf("api: %s", out.Description))
	}

	c.logger().Info("monitor registered", "name", check.Name, "type", check.Type, "host", check.Host, "status", out.Status)
	return &out, nil
}

// RegisterAll registers every check, continuing past failures.
func (c *Client) RegisterAll(ctx context.Context, checks []Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, check := range checks {
		resp, err := c.Register(ctx, check)
		if err != nil {
			c.logger().Warn("monitor registration failed", "name", check.Name, "error", err)
		}
		results = append(results, Result{Check: check.Name, Response: resp, Err: err})
	}
	return results
}
