package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/appointflow/notifier/config"
	"github.com/appointflow/notifier/internal/data"
	"github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

// ConnectDB opens the Postgres pool and verifies it with a ping.
func ConnectDB(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if pingErr := db.PingContext(pingCtx); pingErr != nil {
		return nil, closeAfter(fmt.Errorf("ping database: %w", pingErr), db.Close)
	}

	if logger != nil {
		logger.InfoContext(ctx, "database connected",
			"host", cfg.Host,
			"port", cfg.Port,
			"database", cfg.Name,
			"max_open_conns", cfg.MaxOpenConns,
		)
	}
	return db, nil
}

// ConnectRedis returns a nil client when Redis is disabled. Sent markers and the reaper lock are
// then skipped by their callers.
//
//nolint:ireturn // single, sentinel and cluster deployments share redis.UniversalClient.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	if !cfg.Enabled {
		if logger != nil {
			logger.InfoContext(ctx, "redis disabled")
		}
		return nil, nil
	}

	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	var client redis.UniversalClient
	switch {
	case cfg.UseCluster:
		client = redis.NewClusterClient(opts.Cluster())
	case cfg.UseSentinel:
		client = redis.NewFailoverClient(opts.Failover())
	default:
		client = redis.NewClient(opts.Simple())
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		return nil, closeAfter(fmt.Errorf("ping redis: %w", pingErr), client.Close)
	}

	if logger != nil {
		logger.InfoContext(ctx, "redis connected", "mode", redisMode(cfg), "addrs", strings.Join(opts.Addrs, ","))
	}
	return client, nil
}

// redisOptions folds the three deployment shapes into one UniversalOptions. A redis:// or
// rediss:// URI contributes its address, credentials, TLS settings and DB.
func redisOptions(cfg config.RedisConfig) (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{
		Password:         cfg.Password,
		DB:               cfg.DB,
		SentinelPassword: cfg.SentinelPassword,
	}

	if cfg.UseSentinel && !cfg.UseCluster {
		if len(trimAll(cfg.SentinelNodes)) == 0 {
			return nil, errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		opts.Addrs = trimAll(cfg.SentinelNodes)
		opts.MasterName = cfg.SentinelMasterName
		return opts, nil
	}

	if cfg.UseCluster {
		opts.Addrs = trimAll(cfg.ClusterNodes)
		if len(opts.Addrs) > 0 {
			return opts, nil
		}
	}

	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, fmt.Errorf("redis %s configuration requires an address", redisMode(cfg))
	}
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		opts.Addrs = []string{uri}
		return opts, nil
	}

	parsed, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis url %s: %w", redactURL(uri), err)
	}
	opts.Addrs = []string{parsed.Addr}
	opts.Username = parsed.Username
	if parsed.Password != "" {
		opts.Password = parsed.Password
	}
	if cfg.DB == 0 {
		opts.DB = parsed.DB
	}
	opts.TLSConfig = parsed.TLSConfig
	return opts, nil
}

func redisMode(cfg config.RedisConfig) string {
	switch {
	case cfg.UseCluster:
		return "cluster"
	case cfg.UseSentinel:
		return "sentinel"
	default:
		return "direct"
	}
}

func trimAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}

func closeAfter(err error, closeFn func() error) error {
	if cerr := closeFn(); cerr != nil {
		return errors.Join(err, fmt.Errorf("close: %w", cerr))
	}
	return err
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := data.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}
