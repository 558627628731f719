package connection

import (
	"context"
	"errors"
	"sync"

	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
)

// ErrNoOpConnection is returned by every NoOp operation.
var ErrNoOpConnection = errors.New("no-op connection: host operations are disabled in syntax-check mode")

// NoOp is the syntax-check transport. It performs nothing and counts every
// attempted call so tests can assert that none happened.
type NoOp struct {
	host string

	mu    sync.Mutex
	calls []string
}

var _ connection.Connection = (*NoOp)(nil)

func NewNoOp(host string) *NoOp { return &NoOp{host: host} }

func (n *NoOp) record(op string) {
	n.mu.Lock()
	n.calls = append(n.calls, op)
	n.mu.Unlock()
}

// Calls returns the operations attempted on this connection, in order.
// Connect and Close are lifecycle calls and are not recorded.
func (n *NoOp) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

func (n *NoOp) Host() string                    { return n.host }
func (n *NoOp) Connect(_ context.Context) error { return nil }
func (n *NoOp) Close() error                    { return nil }

func (n *NoOp) RunCommand(_ context.Context, _ string) (*connection.CommandResult, error) {
	n.record("RunCommand")
	return nil, ErrNoOpConnection
}

func (n *NoOp) IsDirectory(_ context.Context, _ string) (bool, error) {
	n.record("IsDirectory")
	return false, ErrNoOpConnection
}

func (n *NoOp) IsFile(_ context.Context, _ string) (bool, error) {
	n.record("IsFile")
	return false, ErrNoOpConnection
}

func (n *NoOp) ContentHash(_ context.Context, _ string) (string, error) {
	n.record("ContentHash")
	return "", ErrNoOpConnection
}

func (n *NoOp) FetchFile(_ context.Context, _, _ string) error {
	n.record("FetchFile")
	return ErrNoOpConnection
}

func (n *NoOp) PushFile(_ context.Context, _, _ string) error {
	n.record("PushFile")
	return ErrNoOpConnection
}
