package main

import (
	"github.com/loomgraph/loom/internal/server"
	"github.com/loomgraph/loom/internal/util"
	"github.com/loomgraph/loom/pkg/logger"
	"github.com/loomgraph/loom/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.New(console.Params{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
