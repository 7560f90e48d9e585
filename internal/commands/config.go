package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration with secrets masked",
	RunE:  runShowConfig,
}

var initConfigCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default kiwi.yaml",
	RunE:  runInitConfig,
}

func init() {
	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(initConfigCmd)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func runShowConfig(cmd *cobra.Command, args []string) error {
	// Copy so masking never leaks into the running config
	shown := *cfg
	shown.Backend.Token = mask(shown.Backend.Token)
	shown.CouchDB.Password = mask(shown.CouchDB.Password)
	shown.Security.JWTSecret = mask(shown.Security.JWTSecret)

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}

const defaultConfig = `# Kiwi Configuration

server:
  host: 0.0.0.0
  port: 8095
  read_timeout: 30s
  write_timeout: 30s
  shutdown_timeout: 10s
  debug: false

backend:
  url: http://localhost:8000/api/actions
  token: ""
  timeout: 60s

credentials:
  store: memory            # memory or sqlite
  path: ./kiwi-credentials.db
  upsert_policy: insert_only

polling:
  backup_interval: 3s
  restore_interval: 5s
  install_interval: 2s
  backup_timeout: 30m
  restore_timeout: 60m
  install_timeout: 20m
  max_fetch_errors: 5

ssh:
  known_hosts_file: $HOME/.ssh/known_hosts
  insecure_ignore_host_key: false
  connect_timeout: 10s

couchdb:
  enabled: false
  url: http://localhost:5984
  database: kiwi
  username: admin
  password: password

logging:
  level: info
  format: text

security:
  rate_limit: 100
  allowed_origins:
    - "*"
  auth_enabled: false
  jwt_secret: change-me-in-production
  jwt_expiration: 24h
  session_ttl: 15m
`

func runInitConfig(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat("kiwi.yaml"); err == nil {
		return fmt.Errorf("kiwi.yaml already exists")
	}
	if err := os.WriteFile("kiwi.yaml", []byte(defaultConfig), 0o600); err != nil {
		return err
	}

	fmt.Println("✓ Created kiwi.yaml")
	return nil
}
