package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hostbill/internal/clock"
	"github.com/smallbiznis/hostbill/internal/config"
	"github.com/smallbiznis/hostbill/internal/migration"
	"github.com/smallbiznis/hostbill/internal/observability"
	"github.com/smallbiznis/hostbill/internal/server"
	"github.com/smallbiznis/hostbill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
