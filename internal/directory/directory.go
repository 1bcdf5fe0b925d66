// Package directory resolves a Host-subdomain codename to a RoutingKey
// (§4.3 strategy 2), backed by PostgreSQL. Only the read path used by the
// GatewayRouter lives here; registration is out-of-scope control-plane
// CRUD per spec.md.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/dalbodeule/hop-gate/internal/gateway"
	"github.com/dalbodeule/hop-gate/internal/logging"
	"github.com/dalbodeule/hop-gate/internal/overlay"
)

// Config holds PostgreSQL connection and pool settings, the same shape the
// teacher's store.Config used for its ent-backed connection.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func defaultConfig() Config {
	return Config{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute}
}

// Postgres implements gateway.Directory by querying a hand-written
// "routes" table whose shape is declared in ent/schema/route.go. It does
// not use a generated ent.Client — see DESIGN.md for why.
type Postgres struct {
	db     *sql.DB
	logger logging.Logger
}

// Open connects to PostgreSQL, configures the pool, verifies connectivity,
// and creates the routes table if it does not already exist.
func Open(ctx context.Context, logger logging.Logger, cfg Config) (*Postgres, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("directory: DSN is empty")
	}
	merged := defaultConfig()
	if cfg.MaxOpenConns > 0 {
		merged.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns >= 0 {
		merged.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		merged.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	merged.DSN = cfg.DSN

	db, err := sql.Open("postgres", merged.DSN)
	if err != nil {
		return nil, fmt.Errorf("directory: open postgres: %w", err)
	}
	db.SetMaxOpenConns(merged.MaxOpenConns)
	db.SetMaxIdleConns(merged.MaxIdleConns)
	db.SetConnMaxLifetime(merged.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("directory: ping postgres: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("directory: migrate: %w", err)
	}

	if logger == nil {
		logger = logging.NewStdJSONLogger("directory")
	}
	logger.Info("connected to postgres directory store", logging.Fields{"dsn_masked": maskDSN(merged.DSN)})

	return &Postgres{db: db, logger: logger.With(logging.Fields{"component": "directory"})}, nil
}

// migrate creates the routes table, mirroring the field set declared in
// ent/schema/route.go without depending on a generated ent client.
func migrate(ctx context.Context, db *sql.DB) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS routes (
	id UUID PRIMARY KEY,
	codename TEXT NOT NULL UNIQUE,
	node_id TEXT NOT NULL,
	target_host TEXT NOT NULL,
	target_port INTEGER NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	_, err := db.ExecContext(ctx, stmt)
	return err
}

// Resolve looks up codename and returns the RoutingKey the Gateway should
// forward to, or an error if no enabled route exists.
func (p *Postgres) Resolve(codename string) (gateway.RoutingKey, error) {
	codename = normalizeCodename(codename)
	if codename == "" {
		return gateway.RoutingKey{}, fmt.Errorf("directory: empty codename")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var nodeIDHex, host string
	var port int
	err := p.db.QueryRowContext(ctx,
		`SELECT node_id, target_host, target_port FROM routes WHERE codename = $1 AND enabled`,
		codename,
	).Scan(&nodeIDHex, &host, &port)
	if err != nil {
		if err == sql.ErrNoRows {
			return gateway.RoutingKey{}, fmt.Errorf("directory: codename %q not found", codename)
		}
		p.logger.Error("directory lookup failed", logging.Fields{"codename": codename, "error": err.Error()})
		return gateway.RoutingKey{}, fmt.Errorf("directory: query failed: %w", err)
	}

	nodeID, err := overlay.ParseNodeId(nodeIDHex)
	if err != nil {
		return gateway.RoutingKey{}, fmt.Errorf("directory: stored node id invalid: %w", err)
	}

	return gateway.RoutingKey{NodeID: nodeID, TargetHost: host, TargetPort: port}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func normalizeCodename(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	return "***"
}
