// Package sqlexec provides a placeholder executor.SQLExecutor. Talking to
// mysqld is explicitly out of scope for this repository — it is an
// external collaborator reached over a Unix socket, the same way the
// original worker treats it — so there is no real implementation to grow
// here, only the seam a deployment wires a MySQL client into.
package sqlexec

import "context"

// Noop implements executor.SQLExecutor by returning an empty result for
// every fragment. It exists so the worker can be wired end to end (serve
// requests, stream empty replies, exercise the scheduler) without a real
// mysqld behind it; production deployments replace this with a client
// that actually executes fragment against mysqld's Unix socket.
type Noop struct{}

// ExecuteFragment always returns an empty row set.
func (Noop) ExecuteFragment(ctx context.Context, db string, chunk int64, fragment string) ([]byte, error) {
	return nil, nil
}
