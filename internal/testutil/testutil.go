// Package testutil provides Postgres and Redis fixtures plus sample domain values for tests.
//
// Database tests skip when no server answers. Set TEST_REQUIRE_DB, TEST_REQUIRE_REDIS or
// TEST_REQUIRE_INFRA to turn the skip into a failure in CI.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/appointflow/notifier/config"
	_ "github.com/appointflow/notifier/internal/data/pgxutil" // pgx driver
	"github.com/appointflow/notifier/internal/migrate"
)

// TestingTB is the subset of testing.TB the fixtures need.
type TestingTB interface {
	Helper()
	Skip(args ...interface{})
	Skipf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

type cleaner interface{ Cleanup(func()) }

// DBConfigFromEnv reads TEST_DB_* variables. The port defaults to the docker-compose test profile.
func DBConfigFromEnv() config.DBConfig {
	port, err := strconv.Atoi(env("TEST_DB_PORT", "55432"))
	if err != nil {
		port = 55432
	}
	return config.DBConfig{
		Host:     env("TEST_DB_HOST", "localhost"),
		Port:     port,
		User:     env("TEST_DB_USER", "notifier"),
		Password: env("TEST_DB_PASSWORD", "notifier"),
		Name:     env("TEST_DB_NAME", "notifier"),
		SSLMode:  env("DB_SSL_MODE", "disable"),
	}
}

// SkipIfNoTestDB skips (or fails, when infrastructure is required) if Postgres is unreachable.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()
	db, err := open(DBConfigFromEnv().DSN(), 2*time.Second)
	if err != nil {
		unavailable(t, requireDB(), "test database not available: %v", err)
		return
	}
	closeQuietly(t, "probe db", db)
}

// SetupTestDB connects to the shared test database, migrates it and empties the notifier tables.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	db, err := open(DBConfigFromEnv().DSN(), 5*time.Second)
	if err != nil {
		t.Fatal("connect test database (is docker-compose up?):", err)
	}
	migrateDB(t, db)
	truncate(t, db)
	return db
}

// WithTestDB runs fn against the shared test database and empties it afterwards.
func WithTestDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	db := SetupTestDB(t)
	defer func() {
		truncate(t, db)
		closeQuietly(t, "test db", db)
	}()
	fn(db)
}

// WithAutoDB uses a throwaway schema when TEST_DB_EPHEMERAL is truthy and the shared database
// otherwise.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	if !envBool("TEST_DB_EPHEMERAL") {
		WithTestDB(t, fn)
		return
	}
	fn(setupSchemaDB(t))
}

// setupSchemaDB creates a uniquely named schema, points search_path at it and migrates it.
// The schema is dropped when the test finishes.
func setupSchemaDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	base := DBConfigFromEnv().DSN()
	admin, err := open(base, 5*time.Second)
	if err != nil {
		t.Fatal("open admin db:", err)
	}

	schema := schemaName()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err = admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		closeQuietly(t, "admin db", admin)
		t.Fatalf("create schema %s: %v", schema, err)
	}

	db, err := open(withSearchPath(base, schema), 10*time.Second)
	if err != nil {
		dropSchema(t, admin, schema)
		t.Fatal("open schema db:", err)
	}
	db.SetMaxOpenConns(10)

	release := func() {
		closeQuietly(t, "schema db", db)
		dropSchema(t, admin, schema)
	}
	if c, ok := t.(cleaner); ok {
		c.Cleanup(release)
	} else {
		defer release()
	}

	t.Logf("using ephemeral schema %s", schema)
	migrateDB(t, db)
	return db
}

func open(dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func withSearchPath(dsn, schema string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	q := u.Query()
	q.Set("search_path", schema+",public")
	u.RawQuery = q.Encode()
	return u.String()
}

func migrateDB(t TestingTB, db *sql.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := migrate.Run(ctx, db); err != nil {
		t.Fatal("run migrations:", err)
	}
}

// truncate empties the notifier tables. Steps cascade from runs and registrations from events.
func truncate(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "TRUNCATE notification_runs, registrations, events CASCADE"); err != nil {
		t.Fatalf("truncate notifier tables: %v", err)
	}
}

func dropSchema(t TestingTB, admin *sql.DB, schema string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
		t.Logf("warning: drop schema %s: %v", schema, err)
	}
	closeQuietly(t, "admin db", admin)
}

func schemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

// SetupTestRedis returns a client on a reserved logical database, flushed before use.
// REDIS_ADDR overrides the probed addresses and TEST_REDIS_DB pins the database index.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr, ok := findRedis(t)
	if !ok {
		unavailable(t, requireRedis(), "redis not available for testing")
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: reserveRedisDB(t, addr)})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.FlushDB(ctx).Err(); err != nil {
		closeQuietly(t, "redis client", client)
		unavailable(t, requireRedis(), "redis at %s unusable: %v", addr, err)
		return nil
	}
	if c, ok := t.(cleaner); ok {
		c.Cleanup(func() { closeQuietly(t, "redis client", client) })
	}
	return client
}

func findRedis(t TestingTB) (string, bool) {
	candidates := []string{"localhost:56379", "redis:6379", "localhost:6379"}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		candidates = []string{addr}
	}
	for _, addr := range candidates {
		c := redis.NewClient(&redis.Options{Addr: addr})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := c.Ping(ctx).Err()
		cancel()
		closeQuietly(t, "redis probe", c)
		if err == nil {
			return addr, true
		}
		t.Logf("redis not available at %s: %v", addr, err)
	}
	return "", false
}

// reserveRedisDB claims one of DB 1..15 through a lock key in DB 0 so parallel packages do not
// flush each other's data. It falls back to DB 1.
func reserveRedisDB(t TestingTB, addr string) int {
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
		t.Logf("ignoring invalid TEST_REDIS_DB=%q", v)
	}

	meta := redis.NewClient(&redis.Options{Addr: addr})
	defer closeQuietly(t, "redis meta client", meta)

	owner := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())
	for i := 1; i <= 15; i++ {
		key := "notifier:testutil:db:" + strconv.Itoa(i)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok, err := meta.SetNX(ctx, key, owner, 30*time.Minute).Result()
		cancel()
		if err != nil || !ok {
			continue
		}
		if c, isCleaner := t.(cleaner); isCleaner {
			c.Cleanup(func() { releaseRedisDB(t, addr, key) })
		}
		return i
	}
	return 1
}

func releaseRedisDB(t TestingTB, addr, key string) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	defer closeQuietly(t, "redis cleanup client", c)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Del(ctx, key).Err(); err != nil {
		t.Logf("warning: release %s: %v", key, err)
	}
}

func unavailable(t TestingTB, required bool, format string, args ...interface{}) {
	if required {
		t.Fatalf(format, args...)
		return
	}
	t.Skipf(format, args...)
}

func closeQuietly(t TestingTB, name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		t.Logf("warning: close %s: %v", name, err)
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }

// TestTime is the fixed instant sample data is built around.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func StringPtr(s string) *string { return &s }
func BoolPtr(b bool) *bool       { return &b }
func IntPtr(i int) *int          { return &i }
