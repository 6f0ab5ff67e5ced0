// Package migrate applies the embedded session-store migrations.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/and161185/practigate/migrations"
)

// Up runs all pending migrations against dsn.
func Up(ctx context.Context, dsn string, logger *zap.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()
	return upDB(ctx, db, logger)
}

func upDB(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	if logger != nil {
		if v, err := goose.GetDBVersionContext(ctx, db); err == nil {
			logger.Info("migrations applied", zap.Int64("version", v))
		}
	}
	return nil
}
