// Package main hosts the vision2struct scrape service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts POST /scrape, validates keyword and limit, persists a queued Job and
//     hands it to the dispatcher. GET /progress/{job_id} streams the job's progress as Server-Sent Events.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by scraper.queue_depth and are fanned
//     out to scraper.concurrency workers. Context cancellation stops workers cleanly on shutdown.
//   - Pipeline: each worker collects image URLs (colly search page or chromedp scrolling), downloads every image
//     with the colly fetcher, stores it in the BlobStore (memory/local/GCS), extracts colour and brightness,
//     labels it (LLM via langchaingo or the heuristic labeler) and writes analysis_<slug>.csv.
//   - Progress: workers emit events into a batching Hub whose sinks update the job store, feed the SSE broker,
//     log through zap, export Prometheus metrics and optionally persist job_runs rows to Postgres.
//   - Fanout: a completion event is published to Pub/Sub when a topic is configured.
//   - Retention: a cron schedule prunes finished jobs and remembered progress events.
//
// Quick checklist:
//   - Configure env vars with the V2S_ prefix (V2S_SERVER_PORT, V2S_SCRAPER_SOURCE, V2S_STORAGE_BACKEND,
//     V2S_LLM_PROVIDER, V2S_DB_DSN, V2S_PUBSUB_TOPIC_NAME, ...) or a .env file.
//   - Run locally: go run ./cmd/vision2struct-server -config config.yaml
//   - Follow a job: vision2struct scrape --keyword "red shoes" --limit 5
package main
