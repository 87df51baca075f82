package main

import (
	"log"

	"github.com/forgeq/forgeq/core/controlplane/gateway"
	"github.com/forgeq/forgeq/core/infra/buildinfo"
	"github.com/forgeq/forgeq/core/infra/config"
)

func main() {
	log.Println("forgeq gateway starting...")
	buildinfo.Log("forgeq-gateway")
	cfg := config.Load()
	if err := gateway.Run(cfg); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
}
