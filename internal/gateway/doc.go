// Package gateway orchestrates the romulus-gateway server components.
//
// # Overview
//
// The gateway package wires the pieces built elsewhere into a running server:
// the auth guard, the broker with its session registry and provisioner, the
// event journal, the stop reconciler and Prometheus metrics. It owns the HTTP
// and gRPC servers and their listeners.
//
// # HTTP API
//
// Gated routes require the X-Wallet, X-Signature and X-Timestamp headers:
//
//   - POST /spawn - Provision an agent for the caller ({"agent_type","image_ref"})
//   - POST /stop/{id} - Stop the caller's agent
//   - GET /status/{id} - Report the caller's agent and its uptime
//
// Open routes:
//
//   - GET /usage/{wallet} - Lifetime accounting (gated when auth.protect_usage is set)
//   - GET /tiers - The tier table, keyed by name
//   - GET /health - {"status":"ok","timestamp":...}
//   - GET /metrics - Prometheus exposition, when metrics are enabled
//
// Admin routes require a bearer token when auth.jwt_secret is set:
//
//   - GET /admin/agents - Every live session
//   - GET /admin/events - Recent journal entries
//   - GET /admin/events/stream - Live lifecycle events as server-sent events (?wallet= to narrow)
//
// # gRPC Service
//
// The romulus.v1.Gateway service carries the same operations with
// google.protobuf.Struct messages. Wallet credentials travel in the x-wallet,
// x-signature and x-timestamp metadata keys. The standard health service is
// registered alongside it.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//	...
//	cancel() // Run shuts the servers down and closes the journal
package gateway
