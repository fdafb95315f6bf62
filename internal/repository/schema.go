package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"owl-thermo/common/database"

	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// SchemaStatements 按分号拆分内嵌的建表语句（跳过空语句和纯注释）
func SchemaStatements() []string {
	var out []string
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		lines := strings.Split(stmt, "\n")
		for len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "--") {
			lines = lines[1:]
		}
		stmt = strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

// EnsureSchema 启动时执行建表（单个事务）
func EnsureSchema(ctx context.Context, pool *database.ConnectionPool, logger *zap.Logger) error {
	stmts := SchemaStatements()
	err := pool.WithTx(ctx, func(tx *sql.Tx) error {
		for i, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("Database schema ensured", zap.Int("statements", len(stmts)))
	return nil
}
