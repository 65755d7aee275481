package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Supported STORE_DRIVER values.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverNeo4j    = "neo4j"
	DriverMemory   = "memory"
)

const (
	defaultDatabase       = "flashBack"
	defaultConnectTimeout = 10 * time.Second
)

// Options configures a Store backend.
type Options struct {
	Driver         string
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
	ConnectTimeout time.Duration
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}
	return defaultConnectTimeout
}

func (o Options) databaseName() string {
	if o.Database != "" {
		return o.Database
	}
	return defaultDatabase
}

// Open connects the backend selected by opts.Driver. The returned handle is
// meant to be created once per process and shared by every handler.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case DriverMongo, "":
		return NewMongoStore(ctx, opts)
	case DriverPostgres:
		return NewPostgresStore(ctx, opts)
	case DriverNeo4j:
		return NewNeo4jStore(ctx, opts)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
}
