package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client provides HTTP client functionality to communicate with a scriptr daemon.
type Client struct {
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for the client.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8420",
		Timeout: 10 * time.Second,
	}
}

// New creates a scriptr API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if (config.TLS != nil && config.TLS.Enabled) || config.Insecure {
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
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.Timeout,
			TLSClientConfig:  transport.TLSClientConfig,
		},
	}
}

// IsReachable checks whether the daemon answers its health endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Add registers a script and returns the stored definition, including a
// generated id when the request carried none.
func (c *Client) Add(ctx context.Context, s Script) (Script, error) {
	var out Script
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/scripts", s, &out)
	return out, err
}

// Remove stops the script if it is live and deletes it from the catalog.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, c.baseURL+"/api/scripts/"+url.PathEscape(id), nil, nil)
}

// Start launches the script.
func (c *Client) Start(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/scripts/"+url.PathEscape(id)+"/start", nil, nil)
}

// Stop terminates the script gracefully.
func (c *Client) Stop(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/scripts/"+url.PathEscape(id)+"/stop", nil, nil)
}

// Status fetches one script's snapshot.
func (c *Client) Status(ctx context.Context, id string) (Status, error) {
	var st Status
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/api/scripts/"+url.PathEscape(id), nil, &st)
	return st, err
}

// Statuses fetches every script's snapshot.
func (c *Client) Statuses(ctx context.Context) ([]Status, error) {
	var sts []Status
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/api/status", nil, &sts)
	return sts, err
}

// List fetches the registered definitions.
func (c *Client) List(ctx context.Context) ([]Script, error) {
	var defs []Script
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/api/scripts", nil, &defs)
	return defs, err
}

// Logs fetches buffered output lines. tail <= 0 returns the whole buffer.
func (c *Client) Logs(ctx context.Context, id string, tail int) ([]LogLine, error) {
	u := c.baseURL + "/api/scripts/" + url.PathEscape(id) + "/logs"
	if tail > 0 {
		u += "?tail=" + strconv.Itoa(tail)
	}
	var lines []LogLine
	err := c.doJSON(ctx, http.MethodGet, u, nil, &lines)
	return lines, err
}

// StreamLogs opens the websocket log stream for a script, replaying the
// buffered snapshot and then delivering live lines on the returned
// channel. The channel is closed when the stream ends, the daemon closes
// the connection, or ctx is cancelled.
func (c *Client) StreamLogs(ctx context.Context, id string) (<-chan LogLine, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/scripts/" + url.PathEscape(id) + "/logs/stream"

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, fmt.Errorf("daemon returned HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	ch := make(chan LogLine, 64)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(ch)
		defer close(done)
		defer func() { _ = conn.Close() }()
		for {
			var ln LogLine
			if err := conn.ReadJSON(&ln); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Debug("log stream ended", "id", id, "error", err)
				}
				return
			}
			select {
			case ch <- ln:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "url", url, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var er struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
			return fmt.Errorf("daemon: %s (HTTP %d)", er.Error, resp.StatusCode)
		}
		return fmt.Errorf("daemon returned HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// setupClientTLS configures TLS settings for the HTTP client.
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

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
				return nil, fmt.Errorf("load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}
	return tlsConfig, nil
}

func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}
