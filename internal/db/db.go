// SPDX-License-Identifier: MIT

// Package db opens the catalog, shard and auxiliary sqlite databases with
// the pragmas the service depends on, and registers the BASENAME SQL
// function used for filename matching.
package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
)

var registerOnce sync.Once

// registerFunctions installs application SQL functions on every connection.
// BASENAME(path) returns the lowercased final path segment; backslashes are
// normalised to forward slashes first so Windows paths match too.
func registerFunctions() {
	registerOnce.Do(func() {
		sqlite.MustRegisterDeterministicScalarFunction("basename", 1,
			func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				var path string
				switch v := args[0].(type) {
				case string:
					path = v
				case nil:
					return nil, nil
				default:
					return nil, fmt.Errorf("basename: unsupported argument type %T", v)
				}
				return Basename(path), nil
			})
	})
}

// Basename mirrors the SQL BASENAME function for use from Go code.
func Basename(path string) string {
	normalised := strings.ReplaceAll(path, `\`, "/")
	if idx := strings.LastIndex(normalised, "/"); idx >= 0 {
		normalised = normalised[idx+1:]
	}
	return strings.ToLower(normalised)
}

// OpenRW opens a writable database, applying WAL journaling and a 5 s busy
// timeout. The parent directory must exist.
func OpenRW(path string) (*sql.DB, error) {
	registerFunctions()
	conn, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, WrapDBError("open database", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, WrapDBError("apply pragma", err)
		}
	}
	return conn, nil
}

// OpenRO opens a database read-only via URI mode. If URI open fails the
// connection falls back to a plain open with query_only set, which gives the
// same guarantee against accidental writes.
func OpenRO(path string) (*sql.DB, error) {
	registerFunctions()
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&cache=shared", path)
	conn, err := sql.Open("sqlite", dsn)
	if err == nil {
		if pingErr := ping(conn); pingErr == nil {
			if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
				_ = conn.Close()
				return nil, WrapDBError("apply pragma", err)
			}
			return conn, nil
		}
		_ = conn.Close()
	}

	conn, err = sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, WrapDBError("open database", err)
	}
	for _, pragma := range []string{"PRAGMA query_only=1", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, WrapDBError("apply pragma", err)
		}
	}
	return conn, nil
}

func ping(conn *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return conn.PingContext(ctx)
}

// NowUTC formats the current time as the wire timestamp format used in every
// text column: ISO-8601 with a Z suffix, second precision.
func NowUTC() string {
	return time.Now().UTC().Format(TimeLayout)
}

// TimeLayout is the canonical timestamp layout for text columns and wire
// payloads.
const TimeLayout = "2006-01-02T15:04:05Z"

// FormatUTC renders t in the canonical layout.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseUTC parses a canonical timestamp; a missing Z suffix is treated as UTC.
func ParseUTC(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if !strings.HasSuffix(raw, "Z") {
		raw += "Z"
	}
	if t, err := time.Parse(TimeLayout, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
