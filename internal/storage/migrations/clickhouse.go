package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "sol-beast/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the archive database named in dsn if needed,
// applies the embedded archive schema and returns a connection bound to it.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	db, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := ensureDatabase(ctx, dsn, db); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, db)
	if err != nil {
		return nil, fmt.Errorf("connect archive database %s: %w", db, err)
	}
	if err := ApplyClickhouse(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func ensureDatabase(ctx context.Context, dsn, db string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse server: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+db); err != nil {
		return fmt.Errorf("create archive database %s: %w", db, err)
	}
	return nil
}

// ApplyClickhouse runs every embedded statement on an open connection.
// Exec takes one statement at a time, so files are split on ';'. Files must
// not put semicolons inside string literals.
func ApplyClickhouse(ctx context.Context, conn *chstore.Conn) error {
	files, err := readSorted(ClickhouseFS, "clickhouse")
	if err != nil {
		return err
	}

	for _, f := range files {
		for i, stmt := range splitStatements(f.SQL) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply %s statement %d: %w", f.Name, i+1, err)
			}
		}
	}
	return nil
}

// splitStatements drops blank and -- comment lines, then splits on ';'.
func splitStatements(sql string) []string {
	var b strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if t := strings.TrimSpace(line); t == "" || strings.HasPrefix(t, "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var out []string
	for _, part := range strings.Split(b.String(), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// databaseFromDSN returns the path component of dsn; the archive needs an
// explicit database so it never writes into "default".
func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if db := strings.Trim(u.Path, "/"); db != "" {
		return db, nil
	}
	return "", fmt.Errorf("clickhouse dsn %q has no database", u.Redacted())
}
