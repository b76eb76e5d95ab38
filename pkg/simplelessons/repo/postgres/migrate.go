package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed schema.sql
var schemaSQL string

// Statements returns the schema as individual statements, in order.
func Statements() []string {
	var out []string
	for _, stmt := range strings.Split(schemaSQL, ";\n") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, strings.TrimSuffix(s, ";"))
		}
	}
	return out
}

// Migrate creates the tables and indexes if they are missing and recreates
// view_lessons_detailed, all in one transaction. It is safe to run on every
// start-up.
func Migrate(ctx context.Context, db TxBeginner) error {
	return pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		for _, stmt := range Statements() {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		return nil
	})
}
