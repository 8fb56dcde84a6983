// Package client is the programmatic interface to a running mcpherdd
// daemon. It speaks the daemon's HTTP API over the Unix socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	apihttp "github.com/mcpherd/mcpherd/internal/api/http"
	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/reconcile"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 8 << 10

	// baseURL is a placeholder host; the transport always dials the
	// daemon socket regardless of the URL.
	baseURL = "http://mcpherd"
)

// ErrDaemonUnavailable indicates no daemon is listening on the socket.
var ErrDaemonUnavailable = errors.New("client: daemon is not running")

// APIError is a structured failure returned by the daemon.
type APIError struct {
	Kind    string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return e.Message
}

// KindIs reports whether err is an APIError of the given kind.
func KindIs(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// Client talks to the daemon over its Unix socket.
type Client struct {
	http       *http.Client
	socketPath string
}

// New builds a client for the daemon socket under the given home directory.
// An empty home resolves the default data directory.
func New(home string) *Client {
	if home == "" {
		home = config.Home()
	}
	return NewForSocket(config.GetPaths(home).Socket)
}

// NewForSocket builds a client that dials the given Unix socket.
func NewForSocket(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{
		http:       &http.Client{Timeout: defaultHTTPTimeout, Transport: transport},
		socketPath: socketPath,
	}
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// ListServers returns every registered server definition.
func (c *Client) ListServers(ctx context.Context) ([]apihttp.Server, error) {
	var list apihttp.ServerList
	if err := c.do(ctx, http.MethodGet, "/v1/servers", nil, &list); err != nil {
		return nil, err
	}
	return list.Servers, nil
}

// GetServer returns one server definition by name.
func (c *Client) GetServer(ctx context.Context, name string) (apihttp.Server, error) {
	var server apihttp.Server
	err := c.do(ctx, http.MethodGet, "/v1/servers/"+name, nil, &server)
	return server, err
}

// CreateServer registers a new server definition.
func (c *Client) CreateServer(ctx context.Context, server apihttp.Server) (apihttp.Server, error) {
	var created apihttp.Server
	err := c.do(ctx, http.MethodPost, "/v1/servers", server, &created)
	return created, err
}

// UpdateServer applies a partial update to a server definition.
func (c *Client) UpdateServer(ctx context.Context, name string, req apihttp.UpdateServerRequest) (apihttp.Server, error) {
	var updated apihttp.Server
	err := c.do(ctx, http.MethodPatch, "/v1/servers/"+name, req, &updated)
	return updated, err
}

// DeleteServer removes a server definition and its client config entries.
func (c *Client) DeleteServer(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/servers/"+name, nil, nil)
}

// Start launches the named server and reports its status once running.
func (c *Client) Start(ctx context.Context, name string) (apihttp.ProcessStatus, error) {
	var status apihttp.ProcessStatus
	err := c.do(ctx, http.MethodPost, "/v1/servers/"+name+"/start", nil, &status)
	return status, err
}

// Stop terminates the named server. A zero timeout uses the daemon default.
func (c *Client) Stop(ctx context.Context, name string, timeout time.Duration) (apihttp.ProcessStatus, error) {
	var status apihttp.ProcessStatus
	err := c.do(ctx, http.MethodPost, "/v1/servers/"+name+"/stop",
		apihttp.StopRequest{TimeoutSeconds: timeout.Seconds()}, &status)
	return status, err
}

// Restart stops then starts the named server.
func (c *Client) Restart(ctx context.Context, name string, timeout time.Duration) (apihttp.ProcessStatus, error) {
	var status apihttp.ProcessStatus
	err := c.do(ctx, http.MethodPost, "/v1/servers/"+name+"/restart",
		apihttp.StopRequest{TimeoutSeconds: timeout.Seconds()}, &status)
	return status, err
}

// Status reports the process status of one registered server.
func (c *Client) Status(ctx context.Context, name string) (apihttp.ProcessStatus, error) {
	var status apihttp.ProcessStatus
	err := c.do(ctx, http.MethodGet, "/v1/servers/"+name+"/status", nil, &status)
	return status, err
}

// ListRunning returns the names of currently running servers.
func (c *Client) ListRunning(ctx context.Context) ([]string, error) {
	var running apihttp.RunningList
	if err := c.do(ctx, http.MethodGet, "/v1/processes", nil, &running); err != nil {
		return nil, err
	}
	return running.Names, nil
}

// Reconcile runs a reconciliation pass against the client config files.
func (c *Client) Reconcile(ctx context.Context, dryRun bool) (reconcile.Report, error) {
	var report reconcile.Report
	err := c.do(ctx, http.MethodPost, "/v1/reconcile", apihttp.ReconcileRequest{DryRun: dryRun}, &report)
	return report, err
}

// Import registers a server from a local artifact or manifest path.
func (c *Client) Import(ctx context.Context, path, name string) (apihttp.Server, error) {
	var server apihttp.Server
	err := c.do(ctx, http.MethodPost, "/v1/import", apihttp.ImportRequest{Path: path, Name: name}, &server)
	return server, err
}

// Info returns daemon version and uptime information.
func (c *Client) Info(ctx context.Context) (apihttp.DaemonInfo, error) {
	var info apihttp.DaemonInfo
	err := c.do(ctx, http.MethodGet, "/v1/daemon", nil, &info)
	return info, err
}

// Shutdown asks the daemon to exit gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/daemon/shutdown", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr *net.OpError
		if errors.As(err, &netErr) {
			return fmt.Errorf("%w (socket %s): %v", ErrDaemonUnavailable, c.socketPath, err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}

	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload apihttp.ErrorResponse
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Kind = payload.Kind
			return apiErr
		}
	}
	if trimmed != "" {
		apiErr.Message = trimmed
	}
	return apiErr
}
