// Package executor runs the scheduler-side of the shared-scan contract
// against an opaque SQL execution collaborator: it pulls ready tasks from
// a scheduler queue, runs their fragments, checks cancellation between
// fragments, and drives each task's reply sink to completion.
package executor

import (
	"context"
)

// SQLExecutor runs one SQL fragment against a chunk's tables and returns
// its serialized row data. The scheduler core never looks inside a
// fragment string; this interface is the only place fragment text is
// evaluated, and production code wires it to a MySQL-speaking client. That
// client is out of scope here, same as the original worker treats mysqld
// as an external collaborator it talks to over a Unix socket.
type SQLExecutor interface {
	ExecuteFragment(ctx context.Context, db string, chunk int64, fragment string) ([]byte, error)
}
