// Package config handles configuration loading for romulus-gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (chosen by the .toml
// extension) with environment variable expansion. Every field has a default,
// so the gateway also runs with no file at all.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ROMULUS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/romulus/gateway.yaml
//  3. ~/.config/romulus/gateway.yaml
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${ROMULUS_JWT_SECRET}"
//
// These variables override file values directly:
//
//	ROMULUS_TOKEN   solana.token_mint
//	SOLANA_RPC      solana.rpc_url
//	HYPERCORE_URL   hypercore.url
//	PORT            server.http_addr (as ":PORT")
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":3000"
//	  grpc_addr: ":50051"       # empty disables gRPC
//
//	solana:
//	  rpc_url: "https://api.mainnet-beta.solana.com"
//	  token_mint: "5ruEtrHG..."
//	  timeout: "5s"
//
//	hypercore:
//	  url: "http://localhost:8443"
//	  timeout: "30s"
//	  reconcile_interval: "1m"
//	  images:
//	    coding: "ghcr.io/romulus-ai/agent-coding:latest"
//
//	auth:
//	  jwt_secret: ""            # protects /admin/* when set
//	  replay_window: "5m"
//	  strict_oracle: false      # true: RPC failures return 503 instead of zero balance
//	  replay_protection: false  # true: each signed header set works once
//	  protect_usage: false      # true: /usage requires auth for the caller's own wallet
//	  rate_limit: 0             # attempts per second per client address, 0 disables
//	  rate_burst: 0
//
//	tiers:                      # optional override of the default table
//	  - name: basic
//	    min_balance: 100000
//	    cores: 1
//	    memory_mb: 1024
//
//	database:
//	  path: ":memory:"          # event journal
//
//	tailscale:
//	  enabled: false
//	  hostname: "romulus-gateway"
//
//	logging:
//	  level: "info"             # debug, info, warn, error
//	  format: "text"            # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Duration values use Go's time.ParseDuration syntax and must be positive.
package config
