package client

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/gorilla/websocket"

	apihttp "github.com/mcpherd/mcpherd/internal/api/http"
)

// FollowLogs streams child process output from the daemon and invokes fn for
// each line. An empty server name follows every server. The stream ends when
// ctx is cancelled, fn returns an error, or the daemon closes the socket.
func (c *Client) FollowLogs(ctx context.Context, server string, fn func(apihttp.LogStreamEvent) error) error {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", c.socketPath)
		},
	}

	streamURL := "ws://mcpherd/v1/logs/stream"
	if server != "" {
		streamURL += "?server=" + url.QueryEscape(server)
	}

	conn, resp, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return readAPIError(resp)
		}
		return fmt.Errorf("%w (socket %s): %v", ErrDaemonUnavailable, c.socketPath, err)
	}
	defer conn.Close()

	// A cancelled context force-closes the connection to unblock ReadJSON.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var event apihttp.LogStreamEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}
