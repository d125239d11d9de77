package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marmos91/dittodrive/internal/logger"
)

// pgBouncerPort is the conventional port of a transaction pooler. Poolers in
// transaction mode do not support server-side prepared statements.
const pgBouncerPort = 6543

// TableNames holds the prefixed table names of one drive.
type TableNames struct {
	Folders string
	Files   string
	Meta    string
}

// NewTableNames creates table names with the given prefix, so several
// drives (or environments) can share one database.
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Folders: fmt.Sprintf("%sdrive_folders", prefix),
		Files:   fmt.Sprintf("%sdrive_files", prefix),
		Meta:    fmt.Sprintf("%sdrive_snapshot", prefix),
	}
}

// CreateConnectionPool creates a pgx pool and verifies it with a ping.
//
// On the pooler port the query mode is switched to cache_describe unless
// the connection string already chose one. An explicit
// default_query_exec_mode parameter always wins.
func CreateConnectionPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = maxConns
	config.MinConns = minConns

	if config.ConnConfig.Port == pgBouncerPort && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		logger.Debug("Snapshot store: using cache_describe mode on pooler port %d", pgBouncerPort)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
