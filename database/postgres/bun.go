// Package postgres wires up the bun client for the durable store. Unlike the
// Redis side, a missing database configuration is fatal: the relational store
// is the system of record and there is no degraded mode without it.
package postgres

import (
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/fablehall/viewcore/env"
)

// NewBun constructs a *bun.DB from DB_USER, DB_PASS, DB_HOST, DB_PORT,
// DB_NAME and APP_NAME. It panics when any of them is missing.
func NewBun() *bun.DB {
	user := mustEnv("DB_USER")
	pass := mustEnv("DB_PASS")
	host := mustEnv("DB_HOST")
	port := mustEnv("DB_PORT")
	name := mustEnv("DB_NAME")
	app := env.LoadOr("APP_NAME", "viewcore")

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithUser(user),
		pgdriver.WithAddr(fmt.Sprintf("%s:%s", host, port)),
		pgdriver.WithPassword(pass),
		pgdriver.WithDatabase(name),
		pgdriver.WithApplicationName(app),
		pgdriver.WithInsecure(!env.LoadBoolOr("DB_TLS", false)),
	))

	db := bun.NewDB(sqldb, pgdialect.New())

	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.FromEnv("BUNDEBUG"),
	))

	return db
}

func mustEnv(name string) string {
	v, err := env.Load(name)
	if err != nil {
		panic(err)
	}

	return v
}
