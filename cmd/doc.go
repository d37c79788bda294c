// Package cmd defines the CLI commands for the loadstate executable.
//
// Architecture overview:
//   - Tracker: internal/tracker owns the progress Store and the single loop it
//     runs on. Every report, clear and query is marshalled onto that loop, so
//     observers and deferred cleanups never race with producers.
//   - HTTP API: internal/api exposes load reporting, queries, the is-any-active
//     check and the change history, plus /healthz, /readyz and /metrics.
//   - Fanout: a progress Hub subscribed to the Store batches changes to the
//     history repository (Postgres or memory), Pub/Sub (or memory), the zap
//     change log and Prometheus collectors.
//   - Configuration & plumbing: Viper populates config from file and
//     LOADSTATE_* env vars; zap provides structured logging.
//
// Quick checklist:
//   - Run locally: go run . serve --config config.yaml (or rely on env overrides).
//   - Persist history: set LOADSTATE_DATABASE_DSN.
//   - Publish changes: set LOADSTATE_PUBSUB_PROJECT_ID and LOADSTATE_PUBSUB_TOPIC_NAME.
package cmd
