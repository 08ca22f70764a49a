package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config holds connection settings for a Neo4j or Memgraph server.
type Config struct {
	URI      string
	Username string
	Password string
}

// Driver is a thin Bolt client over the neo4j driver.
type Driver struct {
	driver neo4j.DriverWithContext
}

var (
	_ Writer  = (*Driver)(nil)
	_ Querier = (*Driver)(nil)
)

// Connect creates a driver. It does not dial; use Ping to verify connectivity.
func Connect(cfg Config) (*Driver, error) {
	var auth neo4j.AuthToken
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	} else {
		auth = neo4j.NoAuth()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("create driver: %w", err)
	}
	return &Driver{driver: driver}, nil
}

// ExecuteWrite runs a write query.
func (d *Driver) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	if _, err := session.Run(ctx, query, params); err != nil {
		return fmt.Errorf("write query failed: %w", err)
	}
	return nil
}

// Execute runs a read query and collects every record as a map.
func (d *Driver) Execute(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var records []map[string]any
	for result.Next(ctx) {
		rec := result.Record()
		row := make(map[string]any, len(rec.Keys))
		for _, key := range rec.Keys {
			val, _ := rec.Get(key)
			row[key] = val
		}
		records = append(records, row)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("result iteration failed: %w", err)
	}
	return records, nil
}

// Ping checks connectivity.
func (d *Driver) Ping(ctx context.Context) error {
	return d.driver.VerifyConnectivity(ctx)
}

// Close releases the driver.
func (d *Driver) Close() error {
	return d.driver.Close(context.Background())
}
