package main

import (
	"time"

	"github.com/lawtext/refinery/internal/config"
)

func durationMS(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func durationS(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// loadConfigOnly reads the config without opening the database, for
// commands that only talk to the control socket.
func loadConfigOnly() (*config.Config, error) {
	return config.Load(configPath)
}
