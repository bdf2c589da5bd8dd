package main

import (
	"os"

	"github.com/golang-migrate/migrate"
	_ "github.com/golang-migrate/migrate/database/postgres"
	_ "github.com/golang-migrate/migrate/source/file"
	"github.com/provideplatform/issuance/common"
)

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	common.PanicIfEmpty(databaseURL, "DATABASE_URL not provided")

	sourceURL := os.Getenv("MIGRATIONS_SOURCE_URL")
	if sourceURL == "" {
		sourceURL = "file://db/migrations"
	}

	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		common.Log.Panicf("failed to initialize migrations; %s", err.Error())
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		common.Log.Panicf("failed to apply migrations; %s", err.Error())
	}

	version, dirty, _ := m.Version()
	common.Log.Debugf("migrations applied; version: %d; dirty: %t", version, dirty)
}
