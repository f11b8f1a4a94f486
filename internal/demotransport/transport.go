// Package demotransport provides an in-memory exchange.Transport that
// replays a canned inbound message script instead of talking to a real
// TDS socket. It backs both the cmd/cursordemo entrypoint and the
// package tests for internal/cursor and internal/exchange, mirroring
// the teacher's test-double shape (jeroenrinzema-psql-wire's
// in-process testServer/testSession harness) without needing a real
// network listener.
package demotransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/joao-brasil/mssql-cursor-exchange/internal/tds"
)

// Scripted is a Transport whose ReadMessage replays a fixed sequence of
// messages and whose WriteFrame records every outbound frame it sees,
// so a test can assert on exactly what the engine sent.
type Scripted struct {
	mu         sync.Mutex
	script     []tds.Message
	pos        int
	written    [][]byte
	attentions int
}

// NewScripted constructs a Scripted transport that will hand back each
// message in script, in order, one per ReadMessage call.
func NewScripted(script []tds.Message) *Scripted {
	return &Scripted{script: script}
}

func (s *Scripted) WriteFrame(_ context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), frame...)
	s.written = append(s.written, cp)
	return nil
}

func (s *Scripted) ReadMessage(_ context.Context) (tds.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.script) {
		return nil, fmt.Errorf("demotransport: script exhausted after %d messages", s.pos)
	}
	msg := s.script[s.pos]
	s.pos++
	return msg, nil
}

// SendAttention records that an out-of-band attention was requested,
// implementing exchange.AttentionSender so tests can exercise the
// statement-timeout watchdog without a real socket.
func (s *Scripted) SendAttention(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attentions++
	return nil
}

// Attentions reports how many times SendAttention has been called.
func (s *Scripted) Attentions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attentions
}

// Written returns every frame written so far, in order.
func (s *Scripted) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

// WriteCount reports how many frames have been written so far.
func (s *Scripted) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}
