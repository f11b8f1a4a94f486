// Package connstate tracks the connection-global state that every
// inbound ENVCHANGE token can update — transaction descriptor, database
// collation, transaction status, packet size — and publishes it so that
// the inbound (single-writer) path and user-facing reader threads agree
// on a single consistent snapshot without per-read locking.
package connstate

import (
	"fmt"
	"sync/atomic"

	"github.com/joao-brasil/mssql-cursor-exchange/internal/tds"
)

// TransactionDescriptor is the opaque 8-byte token the server assigns to
// bind an RPC to the current transaction scope. It defaults to all
// zeros, meaning "no transaction".
type TransactionDescriptor [8]byte

// IsZero reports whether d is the default "no transaction" descriptor.
func (d TransactionDescriptor) IsZero() bool {
	return d == TransactionDescriptor{}
}

// State is one consistent, immutable snapshot of connection-global
// fields. A new State is built and atomically swapped in rather than
// mutated in place, since every update already has the complete new
// value in hand from the triggering ENVCHANGE — see DESIGN.md for why
// this is preferred over a sync.RWMutex here.
type State struct {
	TransactionDescriptor TransactionDescriptor
	DatabaseCollation     []byte
	TransactionStatus     bool // true while @@TRANCOUNT > 0, best-effort.
	EncryptionSupported   bool
	PacketSize            int
	Database              string
}

// Listener publishes connection-global State derived from the inbound
// ENVCHANGE stream. The zero Listener is ready to use.
type Listener struct {
	current atomic.Pointer[State]
}

// NewListener creates a Listener starting from the zero-value State.
func NewListener() *Listener {
	l := &Listener{}
	l.current.Store(&State{})
	return l
}

// Snapshot returns the most recently published State. Safe to call
// concurrently from any number of reader goroutines.
func (l *Listener) Snapshot() *State {
	return l.current.Load()
}

// Apply consumes one inbound message. If it is an EnvChangeMessage, it
// computes the next State from the previous one and publishes it before
// returning — satisfying the requirement that listener updates are
// visible before the triggering token is surfaced downstream. Returns an
// error only for a fatal protocol violation (bad transaction descriptor
// length).
func (l *Listener) Apply(msg tds.Message) error {
	ec, ok := msg.(tds.EnvChangeMessage)
	if !ok {
		return nil
	}

	prev := l.current.Load()
	next := *prev

	switch ec.Type {
	case envTypeBeginTransaction, envTypeEnlistDTC:
		td, err := parseTransactionDescriptor(ec.NewValue)
		if err != nil {
			return fmt.Errorf("connstate: %w", err)
		}
		next.TransactionDescriptor = td
		next.TransactionStatus = true

	case envTypeCommitTransaction, envTypeRollbackTransaction:
		next.TransactionDescriptor = TransactionDescriptor{}
		next.TransactionStatus = false

	case envTypeCollation:
		next.DatabaseCollation = append([]byte(nil), ec.NewValue...)

	case envTypeDatabase:
		next.Database = string(ec.NewValue)

	case envTypePacketSize:
		// NewValue is a decimal ASCII string per MS-TDS, e.g. "4096".
		var size int
		_, _ = fmt.Sscanf(string(ec.NewValue), "%d", &size)
		if size > 0 {
			next.PacketSize = size
		}

	default:
		return nil
	}

	l.current.Store(&next)
	return nil
}

// parseTransactionDescriptor validates and copies an 8-byte transaction
// descriptor. Per spec, a length mismatch is a fatal protocol error, not
// a value to silently coerce.
func parseTransactionDescriptor(b []byte) (TransactionDescriptor, error) {
	var td TransactionDescriptor
	if len(b) != 8 {
		return td, fmt.Errorf("transaction descriptor length %d, want 8", len(b))
	}
	copy(td[:], b)
	return td, nil
}

// ENVCHANGE sub-type constants, duplicated from internal/tds (which
// keeps them unexported) since this is the one package that needs to
// branch on each of them by name.
const (
	envTypeDatabase            byte = 1
	envTypePacketSize          byte = 4
	envTypeBeginTransaction    byte = 8
	envTypeCommitTransaction   byte = 9
	envTypeRollbackTransaction byte = 10
	envTypeEnlistDTC           byte = 11
	envTypeCollation           byte = 19
)
