package driver

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Tx is a write transaction. Every Run inside one ExecuteWrite commits or
// rolls back together.
type Tx interface {
	Run(ctx context.Context, query string, params map[string]interface{}) ([]*neo4j.Record, error)
}

type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	// ExecuteWrite runs work in one transaction. work may be invoked again on
	// transient failures, so it must not have side effects outside tx.
	ExecuteWrite(ctx context.Context, work func(tx Tx) error) error
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}
