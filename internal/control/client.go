// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Reply is a decoded server response with the payload left raw.
type Reply struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Client sends single commands to a running instance.
type Client struct {
	Addr    string
	Timeout time.Duration
}

// Do sends command and returns the reply. A reply with ok=false is returned
// together with a non-nil error carrying the server's message.
func (c Client) Do(ctx context.Context, command string) (Reply, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return Reply{}, fmt.Errorf("connect %s: %w", c.Addr, err)
	}
	defer func() { _ = conn.Close() }()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	req, err := json.Marshal(Request{Command: command})
	if err != nil {
		return Reply{}, err
	}
	if _, err := conn.Write(append(req, '\n')); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), 16<<20)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return Reply{}, fmt.Errorf("read reply: %w", err)
		}
		return Reply{}, errors.New("read reply: connection closed")
	}
	var rep Reply
	if err := json.Unmarshal(sc.Bytes(), &rep); err != nil {
		return Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	if !rep.OK {
		return rep, fmt.Errorf("%s: %s", command, rep.Error)
	}
	return rep, nil
}
