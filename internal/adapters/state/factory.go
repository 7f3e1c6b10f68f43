package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
)

// Backend names accepted by NewStore.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// NewStore builds the configured workflow store.
func NewStore(ctx context.Context, backend, path, dsn string) (core.WorkflowStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSQLite:
		if path == "" {
			return nil, core.ErrValidation(core.CodeInvalidConfig, "state.path is required for the sqlite backend")
		}
		return NewSQLiteStore(path)
	case BackendPostgres:
		if dsn == "" {
			return nil, core.ErrValidation(core.CodeInvalidConfig, "state.dsn is required for the postgres backend")
		}
		return NewPostgresStore(ctx, dsn)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown state backend %q", backend))
	}
}
