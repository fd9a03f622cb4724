package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/thelab33/futurefunded/internal/config"
	"github.com/thelab33/futurefunded/internal/migration"
	"github.com/thelab33/futurefunded/internal/observability"
	"github.com/thelab33/futurefunded/internal/server"
	"github.com/thelab33/futurefunded/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		migration.Module,
		server.Module,
	)

	app.Run()
}

func registerSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
