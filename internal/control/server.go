// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package control implements the local operator endpoint. It listens on a
// well-known loopback address; failing to bind because the address is in use
// means another instance already runs on this host.
//
// The protocol is newline delimited. A request is either a bare command word
// or a JSON object {"command":"..."}; every request is answered with exactly
// one JSON line {"ok":true,"data":...} or {"ok":false,"error":"..."}.
package control

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/metrics"
	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/rs/zerolog"
)

// Commands understood by the server.
const (
	CmdPing   = "ping"
	CmdPause  = "pause"
	CmdResume = "resume"
	CmdStats  = "stats"
	CmdErrors = "errors"
)

const (
	maxLineBytes = 64 << 10
	idleTimeout  = 5 * time.Minute
	writeTimeout = 10 * time.Second
)

var (
	// ErrAlreadyRunning is returned by Listen when the control address is taken.
	ErrAlreadyRunning = errors.New("another instance is already running")

	errUnknownCommand = errors.New("unknown command")
	errEmptyRequest   = errors.New("empty request")
)

// Request is the JSON form of a command.
type Request struct {
	Command string `json:"command"`
}

// Response is one reply line.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// PauseResult is the data of pause and resume.
type PauseResult struct {
	Paused  bool `json:"paused"`
	Changed bool `json:"changed"`
}

// Server answers control commands against the state store.
type Server struct {
	ln     net.Listener
	state  *state.Store
	logger zerolog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Listen binds addr. A bind failure because the address is in use is
// reported as ErrAlreadyRunning.
func Listen(addr string, st *state.Store) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: %s in use", ErrAlreadyRunning, addr)
		}
		return nil, fmt.Errorf("control listen %s: %w", addr, err)
	}
	return &Server{
		ln:     ln,
		state:  st,
		logger: log.WithComponent("control"),
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// Close releases the listener of a server that was never served.
func (s *Server) Close() error { return s.ln.Close() }

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until ctx is cancelled, then closes the listener
// and every open connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info().
		Str("event", "control.listening").
		Str(log.FieldAddr, s.ln.Addr().String()).
		Msg("control endpoint listening")

	stop := context.AfterFunc(ctx, func() {
		_ = s.ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
	})
	defer stop()

	var tempDelay time.Duration
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = nextDelay(tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			s.wg.Wait()
			return fmt.Errorf("control accept: %w", err)
		}
		tempDelay = 0

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			_ = conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				_ = conn.Close()
			}()
			s.serveConn(conn)
		}()
	}
}

func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// serveConn answers requests until the peer disconnects. Malformed requests
// get an error reply and the connection stays usable.
func (s *Server) serveConn(conn net.Conn) {
	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 1024), maxLineBytes)
	enc := json.NewEncoder(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if !sc.Scan() {
			if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
				var ne net.Error
				if errors.Is(err, bufio.ErrTooLong) {
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					_ = enc.Encode(s.protocolError(errors.New("request line too long")))
				} else if !errors.As(err, &ne) || !ne.Timeout() {
					logger.Debug().Err(err).Msg("control connection read failed")
				}
			}
			return
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		resp := s.Dispatch(line)
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := enc.Encode(resp); err != nil {
			logger.Debug().Err(err).Msg("control reply failed")
			return
		}
	}
}

// Dispatch decodes one request line and executes it.
func (s *Server) Dispatch(line []byte) Response {
	cmd, err := parseRequest(line)
	if err != nil {
		return s.protocolError(err)
	}

	var resp Response
	switch cmd {
	case CmdPing:
		resp = Response{OK: true, Data: "pong"}
	case CmdPause, CmdResume:
		paused := cmd == CmdPause
		changed := s.state.SetPaused(paused)
		if changed {
			s.logger.Info().
				Str("event", "control."+cmd).
				Bool("paused", paused).
				Msg("pause flag changed by operator")
		}
		resp = Response{OK: true, Data: PauseResult{Paused: paused, Changed: changed}}
	case CmdStats:
		resp = Response{OK: true, Data: s.state.Snapshot()}
	case CmdErrors:
		resp = Response{OK: true, Data: s.state.Errors()}
	default:
		return s.protocolError(fmt.Errorf("%w: %q", errUnknownCommand, cmd))
	}
	metrics.RecordControlCommand(cmd, "ok")
	return resp
}

func (s *Server) protocolError(err error) Response {
	metrics.RecordControlCommand("invalid", "error")
	s.state.RecordError(&model.Fault{Kind: model.KindControlProtocol, Err: err})
	s.logger.Debug().Err(err).Str("event", "control.protocol_error").Msg("rejected control request")
	return Response{OK: false, Error: err.Error()}
}

func parseRequest(line []byte) (string, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return "", errEmptyRequest
	}
	if line[0] == '{' {
		var req Request
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return "", fmt.Errorf("malformed request: %w", err)
		}
		cmd := strings.ToLower(strings.TrimSpace(req.Command))
		if cmd == "" {
			return "", errEmptyRequest
		}
		return cmd, nil
	}
	cmd := strings.ToLower(string(line))
	if strings.ContainsAny(cmd, " \t") {
		return "", fmt.Errorf("%w: %q", errUnknownCommand, cmd)
	}
	return cmd, nil
}
