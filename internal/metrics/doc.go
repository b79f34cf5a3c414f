// Package metrics provides Prometheus metrics for a pruning run.
//
// This package exposes:
//   - Processed containers by outcome, and per-container processing time
//   - Evaluated chunks by decision (kept, deleted)
//   - Chunk and container failures by error kind
//   - Bytes reclaimed and external chunk files removed
//   - Backup store operation latency, counts and bytes transferred
//
// Metrics are exposed via a dedicated HTTP server on /metrics in Prometheus format.
//
// Usage:
//
//	pruneMetrics := metrics.NewPruneMetrics()
//	storeMetrics := metrics.NewObjectStoreMetrics()
//
//	store, _ := backup.OpenStore(ctx, cfg.Backup, storeMetrics)
//	scheduler := sweep.NewScheduler(sweepCfg, executor, pruneMetrics)
//
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics
