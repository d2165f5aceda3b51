package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/proxy"
)

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	level, _ := cfg.GetLogLevel() // checked by Validate
	logrus.SetLevel(level)

	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		dump, err := cfg.Dump()
		if err != nil {
			logrus.Warnf("Failed to dump configuration: %v", err)
		} else {
			logrus.Debugf("Loaded configuration from %s:\n%s", configPath, dump)
		}
	}

	server, err := proxy.New(cfg)
	if err != nil {
		logrus.Fatalf("Failed to create proxy server: %v", err)
	}
	defer func() { _ = server.Close() }()

	if err := server.Start(); err != nil {
		logrus.Errorf("Server failed: %v", err)
		return
	}
}
