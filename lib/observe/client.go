// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"bufio"
	"context"
	"fmt"
	"net"
)

// Client reads frames from an observation endpoint.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the observation endpoint at address.
func Dial(ctx context.Context, address string) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Next blocks for the next frame. It returns io.EOF, wrapped, once the
// server has closed the stream.
func (c *Client) Next() (Frame, error) {
	message, err := ReadMessage(c.reader)
	if err != nil {
		return nil, err
	}
	return DecodeFrame(message)
}

// Close closes the connection, unblocking Next.
func (c *Client) Close() error {
	return c.conn.Close()
}
