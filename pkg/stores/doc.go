// Package stores provides the SQLite-backed resolution journal for
// Capstan. It uses WAL mode with embedded migrations and records
// sessions, resolutions, probe runs, installation attempts, and
// telemetry events. The journal is append-only from the engine's point
// of view; the resolver never reads it back, only the status CLI does.
package stores
