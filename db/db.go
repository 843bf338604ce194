// Package db persists pipeline results in PostgreSQL. Connections are
// split into write and read pools so deployments with read replicas can
// direct lookup traffic away from the primary.
package db

import (
	"context"
	"embed"
	"fmt"
	"math/rand"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailsift/mailsift/config"
	"github.com/mailsift/mailsift/logger"
)

// MigrationsFS embeds the SQL migration files. The admin tool applies
// them with golang-migrate.
//
//go:embed migrations
var MigrationsFS embed.FS

type Database struct {
	WritePool *pgxpool.Pool
	ReadPool  *pgxpool.Pool
}

// NewDatabaseFromConfig creates a database handle with read/write split
// configuration. When no read endpoint is configured the write pool
// serves reads too.
func NewDatabaseFromConfig(ctx context.Context, dbConfig *config.DatabaseConfig) (*Database, error) {
	if dbConfig.Write == nil {
		return nil, fmt.Errorf("write database configuration is required")
	}

	writePool, err := createPoolFromEndpoint(ctx, dbConfig.Write, "write")
	if err != nil {
		return nil, fmt.Errorf("failed to create write pool: %w", err)
	}

	var readPool *pgxpool.Pool
	if dbConfig.Read != nil {
		readPool, err = createPoolFromEndpoint(ctx, dbConfig.Read, "read")
		if err != nil {
			writePool.Close()
			return nil, fmt.Errorf("failed to create read pool: %w", err)
		}
	} else {
		logger.Info("DB: no read configuration specified, using write pool for read operations")
		readPool = writePool
	}

	return &Database{
		WritePool: writePool,
		ReadPool:  readPool,
	}, nil
}

func (db *Database) Close() {
	if db.WritePool != nil {
		db.WritePool.Close()
	}
	if db.ReadPool != nil && db.ReadPool != db.WritePool {
		db.ReadPool.Close()
	}
}

// createPoolFromEndpoint creates a connection pool from an endpoint
// configuration.
func createPoolFromEndpoint(ctx context.Context, endpoint *config.DatabaseEndpointConfig, poolType string) (*pgxpool.Pool, error) {
	if len(endpoint.Hosts) == 0 {
		return nil, fmt.Errorf("at least one host must be specified")
	}

	// Randomly select one host; hosts without an explicit port get the
	// endpoint port or the PostgreSQL default.
	selectedHost := endpoint.Hosts[rand.Intn(len(endpoint.Hosts))]
	if !strings.Contains(selectedHost, ":") {
		port := endpoint.Port
		if port == "" {
			port = "5432"
		}
		selectedHost = fmt.Sprintf("%s:%s", selectedHost, port)
	}

	sslMode := "disable"
	if endpoint.TLSMode {
		sslMode = "require"
	}

	connString := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		endpoint.User, endpoint.Password, selectedHost, endpoint.Name, sslMode)

	logger.Info("DB: connecting", "pool", poolType, "host", selectedHost, "database", endpoint.Name, "sslmode", sslMode)

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if endpoint.MaxConns > 0 {
		poolCfg.MaxConns = int32(endpoint.MaxConns)
	}
	if endpoint.MinConns > 0 {
		poolCfg.MinConns = int32(endpoint.MinConns)
	}
	if endpoint.MaxConnLifetime != "" {
		lifetime, err := endpoint.GetMaxConnLifetime()
		if err != nil {
			return nil, fmt.Errorf("invalid max_conn_lifetime: %w", err)
		}
		poolCfg.MaxConnLifetime = lifetime
	}
	if endpoint.MaxConnIdleTime != "" {
		idleTime, err := endpoint.GetMaxConnIdleTime()
		if err != nil {
			return nil, fmt.Errorf("invalid max_conn_idle_time: %w", err)
		}
		poolCfg.MaxConnIdleTime = idleTime
	}

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	logger.Info("DB: pool created",
		"pool", poolType,
		"max_conns", dbPool.Config().MaxConns,
		"min_conns", dbPool.Config().MinConns)

	return dbPool, nil
}
