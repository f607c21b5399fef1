package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/davidleathers/audit-vault-backend/internal/infrastructure/config"
)

var (
	action = flag.String("action", "up", "Migration action: up, down, version")
	steps  = flag.Int("steps", 0, "Number of migrations to apply (0 = all)")
	dir    = flag.String("dir", "migrations", "Migrations directory")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url is required")
	}

	if err := run(cfg); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
}

func run(cfg *config.Config) error {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+*dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	switch *action {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && verr != migrate.ErrNilVersion {
			return verr
		}
		fmt.Printf("version=%d dirty=%v\n", version, dirty)
		return nil
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err == migrate.ErrNoChange {
		log.Println("no pending migrations")
		return nil
	}
	if err != nil {
		return err
	}
	log.Println("migrations applied")
	return nil
}
