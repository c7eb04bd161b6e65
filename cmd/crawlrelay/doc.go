// Package main hosts the crawl-relay service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and submission endpoints, and upgrades
//     /v1/ws to a WebSocket. Each WebSocket is bound to its client identity in the connection
//     registry; a newer connection for the same identity evicts the older one.
//   - Submission path: internal/submit fingerprints each identity/query/target triple, persists a
//     correlation record, and only then publishes the request message. A result arriving with no
//     record is therefore impossible through this path.
//   - Broker: internal/broker abstracts publish/subscribe/pause/resume; the Pub/Sub implementation
//     keeps subscriptions alive across pauses so no messages are lost, while the memory
//     implementation buffers for tests and local runs.
//   - Result path: internal/deliver consumes the results topic, resolves the fingerprint against
//     the correlation store, pushes the payload to the identity's live connection when one exists,
//     and deletes the record whether or not the client was online.
//   - Worker: internal/worker consumes the request topic, fetches the target with Colly, archives
//     the body to the configured blob store, and publishes a result echoing the fingerprint.
//     Run it in-process (serve) or standalone (worker) to scale fetch capacity separately.
//   - Configuration & plumbing: Viper populates config from env/files (CRAWLRELAY_ prefix); zap
//     provides structured logging; Prometheus metrics are exported via /metrics.
//
// Operational notes:
//   - Delivery is best effort: a result for an offline identity is logged and dropped, and its
//     correlation record is still deleted. Clients that must not miss results should stay
//     connected or re-submit.
//   - Consumer lifecycle: the manager's pause-all/resume-all act on the configured topic set, so
//     operators can halt ingestion during an incident even for topics with no local consumer.
//   - Retention: unanswered requests expire after correlation.retention_hours (default 24h).
//
// Run locally: go run ./cmd/crawlrelay serve --config config.yaml (or rely on env overrides).
package main
