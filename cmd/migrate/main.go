package main

import (
	"context"
	"database/sql"
	"os"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/fieldtrack/attendance/pkg/config"
	"github.com/fieldtrack/attendance/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("Failed to set goose dialect", "error", err)
		os.Exit(1)
	}

	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	if err := goose.RunContext(context.Background(), command, db, dir, os.Args[2:]...); err != nil {
		logger.Error("Migration failed", "error", err, "command", command)
		os.Exit(1)
	}

	logger.Info("Migration complete", "command", command)
}
