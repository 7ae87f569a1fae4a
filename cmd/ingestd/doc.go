// Package main hosts the ingest service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, discovery, plan/apply, and job inspection endpoints.
//     Discovery and import requests are validated, mapped into discovery.Request values, and answered synchronously;
//     accepted applies persist an import job via the ImportJobRepository before returning 202.
//   - Job worker: a single polling loop (internal/worker) claims the oldest QUEUED job atomically, walks its event
//     items in order with a configurable per-item delay, and marks the job SUCCEEDED or FAILED. The first item error
//     fails the whole job; remaining items are not attempted. Context cancellation stops the loop cleanly on shutdown.
//   - Ingestion pipeline: the importer fetches each event's overview page, follows session links, pulls the canonical
//     JSON documents through the scraping client (bounded retries with exponential backoff), normalizes alias-tolerant
//     payloads, and upserts events, classes, sessions, drivers, entrants, results, and laps. Laps are replaced
//     wholesale per entrant+session; laps that reference unknown entrants are skipped and counted.
//   - Persistence & fanout: entity repositories are selected by config (memory or Postgres via pgx). Raw scraped
//     payloads are archived to the configured BlobStore (memory/local/GCS) keyed by content hash, and a compact
//     Pub/Sub notification is published per finished job when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler. The service is stateless across requests
//     apart from the job store, suitable for Cloud Run scale-out with a single worker replica.
//
// Operational notes:
//   - Concurrency model: one worker goroutine plus the HTTP server; job claims use an atomic state transition so a
//     second replica never double-runs a job. Shutdown is coordinated via context cancellation from main.
//   - Rate limiting/backoff: the scraping client retries retryable statuses (429/5xx) with exponential backoff and
//     honors a per-item delay between events of one job. The Colly transport retries transient TLS handshake issues.
//   - Observability: zap logs carry job IDs and event URLs at key transitions; Prometheus counters/histograms track
//     API activity, ingestion outcomes, and skipped laps. Tracing is not yet wired in.
//   - Cloud Run: the HTTP server listens on the configured port. Health endpoints (/healthz, /readyz) remain
//     lightweight; the process reacts to SIGTERM for graceful drain of the worker and HTTP server.
//
// Quick checklist:
//   - Configure env vars: INGEST_SERVER_PORT, INGEST_SCRAPE_RESULTS_BASE_URL, INGEST_SCRAPE_MAX_RETRIES,
//     INGEST_WORKER_POLL_INTERVAL_MS, INGEST_DISCOVERY_MAX_SELECTED_EVENTS, storage (INGEST_STORAGE_*), pubsub, and
//     database DSN when persistence beyond memory is required.
//   - Run locally: go run ./cmd/ingestd -config config.yaml (or rely solely on env overrides).
//   - Cloud Run: container listens on the configured port, remains stateless across requests, and shuts down cleanly
//     on SIGTERM with in-flight jobs finishing their current item before the worker exits.
package main
