// Package main hosts the media gateway service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes the liveness, media, search, chat, screenshot, stream, contact,
//     backup and metrics endpoints. Every JSON response is wrapped in the uniform envelope (status, author,
//     timestamp) by internal/envelope.
//   - Cache-aside dispatch: media extraction results are looked up in the configured cache backend first
//     (memory, LevelDB, or Postgres); misses dispatch to the extraction engine with concurrent identical
//     misses collapsed through singleflight, successful results are written back, and a hit is tagged
//     cached:true. A zero TTL keeps entries forever.
//   - Providers: thin HTTP adapters for the extraction engine and the chat backend, a Colly-based results
//     page scraper for search, a Chromedp capturer for screenshots, and a webhook forwarder for contact
//     messages. Provider failures become 500 failure envelopes and are never cached.
//   - Stream relay: /api/stream pulls the origin body and forwards it chunk by chunk with a flush after
//     every write, so memory stays bounded and slow clients throttle the origin read. Mid-stream failures
//     drop the connection without a body.
//   - Emergency breaker: a fixed one-second window counts every inbound request; crossing the threshold is
//     a one-way transition that closes the HTTP server. Only an operator restart recovers the process.
//   - Backup: /api/backup zips the working tree (excluding caches, dependencies, prior archives and VCS
//     metadata), streams it back as an attachment, optionally replicates it to GCS, and always deletes the
//     temporary artifact.
//   - Monitoring: per-request outcomes fan out through internal/monitor to a zap log sink, a Prometheus
//     sink, and an optional Pub/Sub sink, with client identities partially redacted first.
//
// Run locally: go run ./cmd/gateway -config config.yaml, or rely on MEDIAGW_* env overrides
// (MEDIAGW_SERVER_PORT, MEDIAGW_CACHE_BACKEND, MEDIAGW_PROVIDERS_YTDL_BASE_URL, ...).
package main
