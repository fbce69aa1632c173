package config

import (
	"flag"
	"os"
)

// ParseFlags parses command line flags and returns the config and env file paths
func ParseFlags() (configFile string, envFile string) {
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.StringVar(&envFile, "env-file", "", "Optional .env file loaded before environment overrides are applied")

	help := flag.Bool("help", false, "Show help")

	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}

	return configFile, envFile
}
