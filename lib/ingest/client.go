// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/spcs-instruments/pfex/lib/runstate"
)

// Client writes instrument lines and reads the replies. Safe for
// concurrent use; requests are serialized.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to an ingestion endpoint.
func Dial(ctx context.Context, address string) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// SendLine writes line (a newline is appended) and returns the reply
// without its newline. ctx's deadline, if any, bounds the exchange.
func (c *Client) SendLine(ctx context.Context, line []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", err
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	message := make([]byte, 0, len(line)+1)
	message = append(append(message, line...), '\n')
	if _, err := c.conn.Write(message); err != nil {
		return "", fmt.Errorf("sending line: %w", err)
	}

	reply, err := c.reader.ReadString('\n')
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("reading reply: %w", err)
	}
	return strings.TrimRight(reply, "\r\n"), nil
}

type deviceLine struct {
	DeviceName   string                     `json:"device_name"`
	DeviceConfig map[string]any             `json:"device_config"`
	Measurements map[string]runstate.Series `json:"measurements"`
}

type experimentLine struct {
	StartTime *string  `json:"start_time"`
	EndTime   *string  `json:"end_time"`
	Info      infoLine `json:"info"`
}

type infoLine struct {
	Name                  string `json:"name"`
	Email                 string `json:"email"`
	ExperimentName        string `json:"experiment_name"`
	ExperimentDescription string `json:"experiment_description"`
}

// SendDevice sends one device update.
func (c *Client) SendDevice(ctx context.Context, name string, config map[string]any, measurements map[string]runstate.Series) (string, error) {
	if config == nil {
		config = map[string]any{}
	}
	if measurements == nil {
		measurements = map[string]runstate.Series{}
	}
	line, err := json.Marshal(deviceLine{
		DeviceName:   name,
		DeviceConfig: config,
		Measurements: measurements,
	})
	if err != nil {
		return "", fmt.Errorf("encoding device %q: %w", name, err)
	}
	return c.SendLine(ctx, line)
}

// SendExperiment sends the experiment descriptor. The collector stamps
// start_time on arrival.
func (c *Client) SendExperiment(ctx context.Context, info runstate.ExperimentInfo) (string, error) {
	line, err := json.Marshal(experimentLine{Info: infoLine{
		Name:                  info.Name,
		Email:                 info.Email,
		ExperimentName:        info.ExperimentName,
		ExperimentDescription: info.ExperimentDescription,
	}})
	if err != nil {
		return "", fmt.Errorf("encoding experiment: %w", err)
	}
	return c.SendLine(ctx, line)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
