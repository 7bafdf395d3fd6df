// Package store is the warehouse side of the pipeline: dialect-aware
// schema bootstrap, the batch upsert loader and the checkpoint store.
package store

import (
	"fmt"
	"strings"
)

// ColType abstracts the handful of column types the warehouse schema needs
// across dialects.
type ColType int

const (
	ColBigInt ColType = iota
	ColText
	ColKeyText // natural-key text, must be indexable under mysql
	ColTime
	ColBool
)

// Dialect generates the SQL that differs between warehouse engines.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	TypeName(t ColType) string
	// Upsert builds an idempotent insert-or-update for table: conflict on
	// keyCols overwrites every column except keyCols and immutableCols.
	Upsert(table string, cols, keyCols, immutableCols []string) string
	CreateTable(table, body string) string
}

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return mysqlDialect{}, nil
	case "sqlserver":
		return sqlserverDialect{}, nil
	case "sqlite":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("no dialect for driver %q", driver)
	}
}

func exclude(cols []string, skip ...[]string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		skipped := false
		for _, set := range skip {
			for _, s := range set {
				if c == s {
					skipped = true
				}
			}
		}
		if !skipped {
			out = append(out, c)
		}
	}
	return out
}

func placeholders(d Dialect, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = d.Placeholder(i + 1)
	}
	return strings.Join(ps, ", ")
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string           { return "mysql" }
func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) TypeName(t ColType) string {
	switch t {
	case ColBigInt:
		return "BIGINT"
	case ColText:
		return "TEXT"
	case ColKeyText:
		return "VARCHAR(191)"
	case ColTime:
		return "DATETIME(6)"
	case ColBool:
		return "BOOLEAN"
	}
	return "TEXT"
}

func (d mysqlDialect) Upsert(table string, cols, keyCols, immutable []string) string {
	updates := exclude(cols, keyCols, immutable)
	sets := make([]string, len(updates))
	for i, c := range updates {
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		table, strings.Join(cols, ", "), placeholders(d, len(cols)), strings.Join(sets, ", "))
}

func (mysqlDialect) CreateTable(table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, body)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string           { return "sqlite" }
func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) TypeName(t ColType) string {
	switch t {
	case ColBigInt:
		return "INTEGER"
	case ColText, ColKeyText:
		return "TEXT"
	case ColTime:
		return "DATETIME"
	case ColBool:
		return "BOOLEAN"
	}
	return "TEXT"
}

func (d sqliteDialect) Upsert(table string, cols, keyCols, immutable []string) string {
	updates := exclude(cols, keyCols, immutable)
	sets := make([]string, len(updates))
	for i, c := range updates {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), placeholders(d, len(cols)),
		strings.Join(keyCols, ", "), strings.Join(sets, ", "))
}

func (sqliteDialect) CreateTable(table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, body)
}

type sqlserverDialect struct{}

func (sqlserverDialect) Name() string { return "sqlserver" }

func (sqlserverDialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

func (sqlserverDialect) TypeName(t ColType) string {
	switch t {
	case ColBigInt:
		return "BIGINT"
	case ColText:
		return "NVARCHAR(MAX)"
	case ColKeyText:
		return "NVARCHAR(191)"
	case ColTime:
		return "DATETIME2"
	case ColBool:
		return "BIT"
	}
	return "NVARCHAR(MAX)"
}

func (d sqlserverDialect) Upsert(table string, cols, keyCols, immutable []string) string {
	updates := exclude(cols, keyCols, immutable)
	sets := make([]string, len(updates))
	for i, c := range updates {
		sets[i] = fmt.Sprintf("tgt.%s = src.%s", c, c)
	}
	on := make([]string, len(keyCols))
	for i, c := range keyCols {
		on[i] = fmt.Sprintf("tgt.%s = src.%s", c, c)
	}
	srcCols := make([]string, len(cols))
	for i, c := range cols {
		srcCols[i] = "src." + c
	}
	return fmt.Sprintf(
		"MERGE INTO %s WITH (HOLDLOCK) AS tgt USING (VALUES (%s)) AS src (%s) ON %s "+
			"WHEN MATCHED THEN UPDATE SET %s "+
			"WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		table, placeholders(d, len(cols)), strings.Join(cols, ", "), strings.Join(on, " AND "),
		strings.Join(sets, ", "), strings.Join(cols, ", "), strings.Join(srcCols, ", "))
}

func (sqlserverDialect) CreateTable(table, body string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)", table, table, body)
}
