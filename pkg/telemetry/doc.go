// Package telemetry provides observability instrumentation for Capstan.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging capability resolutions against remote targets.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "capstan"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("resolver")
//	logger = logger.WithTargetID("web-01").WithCapability("KvpClient")
//	logger.Info("Starting resolution")
//	logger.WithError(err).Error("Resolution failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into resolution flow and remote latency:
//
//	ctx, span := tel.Tracer.StartResolveSpan(ctx, "KvpClient", "web-01")
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track engine behavior:
//
//	tel.Metrics.RecordCacheMiss("KvpClient")
//	tel.Metrics.RecordProbeAttempt("KvpClient", "hit")
//	tel.Metrics.RecordInstall("KvpClient", "download", "succeeded", duration)
//	tel.Metrics.RecordResolutionCompleted("KvpClient", "succeeded", duration)
//
// Key metrics exposed:
//
//   - capstan_resolutions_total{capability,outcome}
//   - capstan_resolution_duration_seconds{capability,outcome}
//   - capstan_cache_hits_total{capability} / capstan_cache_misses_total{capability}
//   - capstan_probe_attempts_total{capability,outcome}
//   - capstan_installs_total{capability,strategy,outcome}
//   - capstan_remote_commands_total{target,status}
//   - capstan_errors_by_kind_total{kind}
//   - capstan_active_targets / capstan_inflight_resolutions
//
// Metrics are exposed via HTTP at /metrics (default: :9091/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	tel.Events.PublishResolutionStarted(sessionID, "KvpClient", "web-01")
//	tel.Events.PublishInstallCompleted(sessionID, "KvpClient", "web-01", "download", duration)
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterBySessionID, FilterByTargetID
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// # Security Considerations
//
//   - Never log credentials, keys, or tokens
//   - Use secure connections (TLS) for trace exporters in production
//   - Limit metrics endpoint access via network policies
package telemetry
