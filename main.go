package main

import (
	"log"
	"time"

	_ "github.com/telarin/latentvault/docs"

	"github.com/telarin/latentvault/config"

	"github.com/telarin/latentvault/cmd"
)

func init() {
	var cstZone = time.FixedZone("CST", 8*3600) // 东八
	time.Local = cstZone
}

// @title LatentVault API
// @version 1.0
// @description Self-hosted library and metadata service for AI-generated images.

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	log.Printf("latentvault %s (%s)", config.Version, config.CommitHash)
	cmd.Execute()
}
