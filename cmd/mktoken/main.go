// Command mktoken issues a bearer token for a user ID using the configured
// JWT secret. It is meant for operators and local development.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"churchcal/internal/auth"
	"churchcal/internal/config"
	appLog "churchcal/internal/log"
)

func main() {
	configPath := flag.String("config", "/etc/churchcal/config.yaml", "Path to config file")
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	user := flag.String("user", "", "User ID placed in the token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "mktoken: -user is required")
		os.Exit(2)
	}
	if err := config.LoadDotEnv(*envFile); err != nil {
		appLog.Error("failed to load env file", err, "path", *envFile)
		os.Exit(1)
	}
	conf, err := config.Load(*configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", *configPath)
		os.Exit(1)
	}

	a, err := auth.New(conf.Auth.JWTSecret, conf.Auth.Issuer)
	if err != nil {
		appLog.Error("cannot issue tokens", err)
		os.Exit(1)
	}
	tok, err := a.Issue(*user, *ttl)
	if err != nil {
		appLog.Error("failed to sign token", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
