package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"capture-uploader/cmd"
	"capture-uploader/config"
	"capture-uploader/server"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	path, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	root := cmd.Root(cfg)
	if err := root.ExecuteContext(server.SetupLogger(cfg)); err != nil {
		log.Fatal().Err(err).Send()
	}
}
