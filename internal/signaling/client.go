package signaling

import (
	"context"
	"fmt"
	"net/url"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"
	"go.uber.org/zap"
)

const maxDialRetries = 5

// Client is a JSON-RPC 2.0 Dispatcher over a websocket connection.
type Client struct {
	conn *jsonrpc2.Conn
	log  *zap.Logger
}

// Dial connects to the signaling server at addr (host:port), retrying with
// exponential backoff until the context is done or the retry budget runs
// out. Once a session exists no signaling call is ever retried; this is the
// one recovery loop allowed, because it runs before any session state.
func Dial(ctx context.Context, addr string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	log := zap.L().Named("signaling")

	var wsConn *websocket.Conn
	op := func() error {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			log.Warn("signaling dial failed, retrying", zap.String("url", u.String()), zap.Error(err))
			return err
		}
		wsConn = conn
		return nil
	}

	ebo := backoff.NewExponentialBackOff()
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(ebo, maxDialRetries), ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server %s: %w", addr, err)
	}

	c := &Client{log: log}
	c.conn = jsonrpc2.NewConn(ctx, wsstream.NewObjectStream(wsConn), jsonrpc2.HandlerWithError(c.handle))
	log.Info("connected to signaling server", zap.String("url", u.String()))
	return c, nil
}

// Request performs one call and decodes the reply into result.
func (c *Client) Request(ctx context.Context, method string, params, result any) error {
	if err := c.conn.Call(ctx, method, params, result); err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	return nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}

// handle receives server-initiated traffic. The session server only calls
// back for things outside this core's scope, so everything is rejected.
func (c *Client) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	c.log.Warn("unexpected server-initiated request", zap.String("method", req.Method))
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("method not handled: %s", req.Method)}
}
