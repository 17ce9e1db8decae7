// Package fetcher implements the client side of the blob-materialisation
// RPC: a single "fetch this key" call to a configured endpoint, opaque
// to the caller beyond its boolean result.
package fetcher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// Client fetches a blob into the pool by content hash.
type Client interface {
	// Fetch asks the remote endpoint to materialise key in the pool.
	// A transport failure and a remote-reported miss are both reported
	// as ok=false; only a non-nil error distinguishes "the endpoint
	// said no" from "we couldn't talk to the endpoint at all", and
	// callers that only care about pool availability may ignore it.
	Fetch(ctx context.Context, key string) (ok bool, err error)
}

// request is the single JSON line sent to the endpoint.
type request struct {
	Key string `json:"key"`
}

// response is the single JSON line read back.
type response struct {
	OK bool `json:"ok"`
}

// SocketClient dials endpoint fresh for every Fetch call and speaks a
// one-line JSON request/response protocol: a Unix domain socket path,
// or a TCP host:port if endpoint parses as one.
type SocketClient struct {
	endpoint string
	dialer   net.Dialer
}

// NewSocketClient returns a Client that dials endpoint. endpoint is a
// filesystem path (Unix domain socket) unless it looks like host:port,
// in which case TCP is used.
func NewSocketClient(endpoint string) *SocketClient {
	return &SocketClient{endpoint: endpoint}
}

func (c *SocketClient) network() string {
	if _, _, err := net.SplitHostPort(c.endpoint); err == nil {
		return "tcp"
	}
	return "unix"
}

// Fetch sends {"key": key} as a single JSON line and reads back a
// single JSON line {"ok": bool}. Any dial, encode, decode, or
// malformed-response failure is reported as ok=false with a non-nil
// error; the caller is free to treat both identically.
func (c *SocketClient) Fetch(ctx context.Context, key string) (bool, error) {
	conn, err := c.dialer.DialContext(ctx, c.network(), c.endpoint)
	if err != nil {
		return false, fmt.Errorf("fetcher: dial %s: %w", c.endpoint, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(request{Key: key}); err != nil {
		return false, fmt.Errorf("fetcher: send request for %s: %w", key, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return false, fmt.Errorf("fetcher: read response for %s: %w", key, err)
	}

	var resp response
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(line))), &resp); err != nil {
		return false, fmt.Errorf("fetcher: decode response for %s: %w", key, err)
	}
	return resp.OK, nil
}

// dialTimeout bounds how long a Fetch call blocks when the caller
// supplies a context.Background() rather than its own deadline.
const dialTimeout = 30 * time.Second

// FetchWithDefaultTimeout is a convenience wrapper for callers that
// don't already carry a request-scoped context with its own deadline.
func FetchWithDefaultTimeout(c Client, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	return c.Fetch(ctx, key)
}
