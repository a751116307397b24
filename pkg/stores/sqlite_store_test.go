package stores

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/capstan/pkg/engine"
	"github.com/openfroyo/capstan/pkg/telemetry"
)

// setupTestStore creates an in-memory SQLite journal for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"sessions", "resolutions", "probes", "installs", "events"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, err := store.StartSession(ctx, "")
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated session id")
	}

	session, err := store.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if session.Status != SessionStatusRunning {
		t.Errorf("expected status %s, got %s", SessionStatusRunning, session.Status)
	}
	if session.CompletedAt != nil {
		t.Error("expected completed_at to be unset")
	}

	if err := store.FinishSession(ctx, id, SessionStatusCompleted); err != nil {
		t.Fatalf("failed to finish session: %v", err)
	}

	session, err = store.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if session.Status != SessionStatusCompleted {
		t.Errorf("expected status %s, got %s", SessionStatusCompleted, session.Status)
	}
	if session.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestFinishSessionUnknown(t *testing.T) {
	store := setupTestStore(t)

	err := store.FinishSession(context.Background(), "nope", SessionStatusFailed)
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestStartSessionIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.StartSession(ctx, "session-a"); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	if _, err := store.StartSession(ctx, "session-a"); err != nil {
		t.Fatalf("restarting the same session must not fail: %v", err)
	}

	summaries, err := store.ListSessions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(summaries) != 1 {
		t.Errorf("expected 1 session, got %d", len(summaries))
	}
}

func TestRecordResolution(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sessionID, err := store.StartSession(ctx, "session-res")
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	records := []engine.ResolutionRecord{
		{
			SessionID:  sessionID,
			Capability: "kvp",
			TargetID:   "vm-01",
			Variant:    "kvp-compiled",
			Outcome:    "resolved",
			Cached:     false,
			DurationMS: 1200,
		},
		{
			SessionID:  sessionID,
			Capability: "lis-driver",
			TargetID:   "vm-02",
			Outcome:    "failed",
			ErrorKind:  "unsupported_platform",
			Error:      "no variant matches ubuntu 22.04",
			DurationMS: 15,
		},
	}

	for _, rec := range records {
		if err := store.RecordResolution(ctx, rec); err != nil {
			t.Fatalf("failed to record resolution: %v", err)
		}
	}

	resolutions, err := store.ListResolutions(ctx, sessionID, 10, 0)
	if err != nil {
		t.Fatalf("failed to list resolutions: %v", err)
	}
	if len(resolutions) != 2 {
		t.Fatalf("expected 2 resolutions, got %d", len(resolutions))
	}

	first := resolutions[0]
	if first.Capability != "kvp" || first.Variant != "kvp-compiled" || first.Outcome != "resolved" {
		t.Errorf("unexpected first row: %+v", first)
	}
	if first.DurationMS != 1200 {
		t.Errorf("expected duration 1200, got %d", first.DurationMS)
	}

	second := resolutions[1]
	if second.ErrorKind != "unsupported_platform" {
		t.Errorf("expected error kind recorded, got %q", second.ErrorKind)
	}
	if !strings.Contains(second.Error, "ubuntu 22.04") {
		t.Errorf("expected error message recorded, got %q", second.Error)
	}

	summaries, err := store.ListSessions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 session summary, got %d", len(summaries))
	}
	if summaries[0].Resolutions != 2 {
		t.Errorf("expected 2 resolutions in summary, got %d", summaries[0].Resolutions)
	}
	if summaries[0].Failures != 1 {
		t.Errorf("expected 1 failure in summary, got %d", summaries[0].Failures)
	}
}

func TestRecordResolutionCreatesSession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// The engine journals without starting a session explicitly.
	err := store.RecordResolution(ctx, engine.ResolutionRecord{
		SessionID:  "implicit-session",
		Capability: "lsvmbus",
		TargetID:   "vm-03",
		Outcome:    "resolved",
		Variant:    "lsvmbus",
	})
	if err != nil {
		t.Fatalf("failed to record resolution: %v", err)
	}

	session, err := store.GetSession(ctx, "implicit-session")
	if err != nil {
		t.Fatalf("expected session row to exist: %v", err)
	}
	if session.Status != SessionStatusRunning {
		t.Errorf("expected implicit session to be running, got %s", session.Status)
	}
}

func TestRecordResolutionRequiresSessionID(t *testing.T) {
	store := setupTestStore(t)

	err := store.RecordResolution(context.Background(), engine.ResolutionRecord{
		Capability: "kvp",
		TargetID:   "vm-01",
		Outcome:    "resolved",
	})
	if err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestRecordProbeAndInstall(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sessionID, err := store.StartSession(ctx, "session-pi")
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	err = store.RecordProbe(ctx, engine.ProbeRecord{
		SessionID:  sessionID,
		Capability: "guest-agent",
		TargetID:   "vm-01",
		Attempts:   2,
		Succeeded:  true,
		Index:      1,
		ExitCode:   0,
	})
	if err != nil {
		t.Fatalf("failed to record probe: %v", err)
	}

	err = store.RecordInstall(ctx, engine.InstallRecord{
		SessionID:  sessionID,
		Capability: "kvp",
		TargetID:   "vm-01",
		Strategy:   "download-by-arch",
		Succeeded:  false,
		Error:      "download failed",
		DurationMS: 900,
	})
	if err != nil {
		t.Fatalf("failed to record install: %v", err)
	}

	probes, err := store.ListProbes(ctx, sessionID, 10, 0)
	if err != nil {
		t.Fatalf("failed to list probes: %v", err)
	}
	if len(probes) != 1 {
		t.Fatalf("expected 1 probe row, got %d", len(probes))
	}
	if probes[0].Attempts != 2 || !probes[0].Succeeded || probes[0].WorkIndex != 1 {
		t.Errorf("unexpected probe row: %+v", probes[0])
	}

	installs, err := store.ListInstalls(ctx, sessionID, 10, 0)
	if err != nil {
		t.Fatalf("failed to list installs: %v", err)
	}
	if len(installs) != 1 {
		t.Fatalf("expected 1 install row, got %d", len(installs))
	}
	if installs[0].Strategy != "download-by-arch" || installs[0].Succeeded {
		t.Errorf("unexpected install row: %+v", installs[0])
	}
	if installs[0].Error != "download failed" {
		t.Errorf("expected install error recorded, got %q", installs[0].Error)
	}
}

func TestAppendAndListEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	events := []*Event{
		{
			SessionID: "session-ev",
			Type:      "resolution.started",
			Source:    "engine",
			Level:     "info",
			Message:   "Resolving kvp on target vm-01",
		},
		{
			SessionID: "session-ev",
			Type:      "install.failed",
			Source:    "engine",
			Level:     "error",
			Message:   "Installation of kvp on target vm-01 failed",
		},
	}

	for _, event := range events {
		if err := store.AppendEvent(ctx, event); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if event.ID == 0 {
			t.Error("expected auto-generated row id")
		}
		if event.EventID == "" {
			t.Error("expected generated event id")
		}
	}

	sessionID := "session-ev"
	all, err := store.ListEvents(ctx, &sessionID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 events, got %d", len(all))
	}

	level := "error"
	errored, err := store.ListEvents(ctx, &sessionID, &level, 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(errored) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(errored))
	}
	if errored[0].Type != "install.failed" {
		t.Errorf("unexpected event: %+v", errored[0])
	}
}

func TestEventSubscriberPersistsEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	subscriber := store.EventSubscriber()
	subscriber(telemetry.Event{
		ID:         "ev-1",
		Timestamp:  time.Now(),
		Type:       telemetry.EventTypeResolutionCompleted,
		Source:     "engine",
		SessionID:  "session-sub",
		Capability: "kvp",
		TargetID:   "vm-01",
		Level:      telemetry.EventLevelInfo,
		Message:    "Resolved kvp on target vm-01 via kvp-compiled",
		Data:       map[string]interface{}{"variant": "kvp-compiled"},
	})

	sessionID := "session-sub"
	events, err := store.ListEvents(ctx, &sessionID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventID != "ev-1" {
		t.Errorf("expected event id preserved, got %q", events[0].EventID)
	}
	if events[0].Details == nil || !strings.Contains(*events[0].Details, "kvp-compiled") {
		t.Errorf("expected data marshaled into details, got %v", events[0].Details)
	}
}

func TestPruneSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sessionID, err := store.StartSession(ctx, "session-old")
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	err = store.RecordInstall(ctx, engine.InstallRecord{
		SessionID:  sessionID,
		Capability: "kvp",
		TargetID:   "vm-01",
		Strategy:   "download-by-arch",
		Succeeded:  true,
	})
	if err != nil {
		t.Fatalf("failed to record install: %v", err)
	}

	pruned, err := store.PruneSessions(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to prune sessions: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned session, got %d", pruned)
	}

	if _, err := store.GetSession(ctx, sessionID); err == nil {
		t.Error("expected pruned session to be gone")
	}

	// Child rows cascade with the session.
	installs, err := store.ListInstalls(ctx, sessionID, 10, 0)
	if err != nil {
		t.Fatalf("failed to list installs: %v", err)
	}
	if len(installs) != 0 {
		t.Errorf("expected install rows pruned, got %d", len(installs))
	}
}
