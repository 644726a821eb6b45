// Package client is a typed Go client for the warden daemon API. Unlike the
// CLI's internal client it decodes into concrete types and takes a context
// on every call, so it suits embedding in other services.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Client provides HTTP client functionality to communicate with the warden daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for connecting to a daemon behind
// a TLS-terminating proxy.
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8800/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new warden API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8800/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		c.logger.Debug("failed to create request for reachability check", "error", err)
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Servers returns the reconciled status of every registered server.
func (c *Client) Servers(ctx context.Context) ([]ServerStatus, error) {
	var views []ServerStatus
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/servers", nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// StartServer asks the daemon to spawn the registered server id.
func (c *Client) StartServer(ctx context.Context, id string) (ActionResult, error) {
	return c.serverAction(ctx, id, "start")
}

// StopServer asks the daemon to terminate the supervised server id.
func (c *Client) StopServer(ctx context.Context, id string) (ActionResult, error) {
	return c.serverAction(ctx, id, "stop")
}

func (c *Client) serverAction(ctx context.Context, id, action string) (ActionResult, error) {
	c.logger.Debug("server action", "id", id, "action", action)
	u := fmt.Sprintf("%s/servers/%s?action=%s", c.baseURL, url.PathEscape(id), action)
	var result ActionResult
	if err := c.doJSON(ctx, http.MethodPost, u, nil, &result); err != nil {
		return ActionResult{}, err
	}
	return result, nil
}

// Ports returns the daemon's current listening-port snapshot.
func (c *Client) Ports(ctx context.Context) ([]PortEntry, error) {
	var entries []PortEntry
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/ports", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// KillPID terminates the process with the given pid. The daemon refuses
// system pids.
func (c *Client) KillPID(ctx context.Context, pid string) (ActionResult, error) {
	return c.kill(ctx, killRequest{PID: pid})
}

// KillPort terminates whatever is listening on the given port.
func (c *Client) KillPort(ctx context.Context, port string) (ActionResult, error) {
	return c.kill(ctx, killRequest{Port: port})
}

func (c *Client) kill(ctx context.Context, req killRequest) (ActionResult, error) {
	c.logger.Debug("kill request", "pid", req.PID, "port", req.Port)
	data, err := json.Marshal(req)
	if err != nil {
		return ActionResult{}, fmt.Errorf("marshal request: %w", err)
	}
	var result ActionResult
	if err := c.doJSON(ctx, http.MethodDelete, c.baseURL+"/kill", data, &result); err != nil {
		return ActionResult{}, err
	}
	return result, nil
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// doJSON performs a request and decodes the 200 body into out when out is
// non-nil. Non-200 responses become "API error" errors.
func (c *Client) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var errorResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
			c.logger.Error("failed to decode error response", "status", resp.StatusCode)
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
		return fmt.Errorf("API error: %s", errorResp.Error)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
