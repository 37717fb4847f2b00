package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncwarden/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer second.Close()

	var count int
	require.NoError(t, second.DB.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRunRoundTripWithSteps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)

	run := &core.Run{ID: "r1", TaskID: "sync-cycle", Outcome: core.OutcomeRunning, StartedAt: started}
	require.NoError(t, s.InsertRun(ctx, run))

	ended := started.Add(6 * time.Minute)
	msg := "await_settle: timed out"
	run.Outcome = core.OutcomeDegraded
	run.FinalState = "Completed"
	run.EndedAt = &ended
	run.Error = &msg
	run.Steps = []core.Step{
		{Name: "pause_sync", Outcome: core.StepOK, Duration: 2 * time.Second},
		{Name: "await_settle", Outcome: core.StepTimedOut, Duration: 5 * time.Minute, Error: "timed out"},
	}
	require.NoError(t, s.CompleteRun(ctx, run))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeDegraded, got.Outcome)
	assert.Equal(t, "Completed", got.FinalState)
	assert.True(t, got.StartedAt.Equal(started))
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(ended))
	require.NotNil(t, got.Error)
	assert.Equal(t, msg, *got.Error)
	assert.Equal(t, run.Steps, got.Steps)
}

func TestGetAndCompleteUnknownRun(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = s.CompleteRun(context.Background(), &core.Run{ID: "missing", Outcome: core.OutcomeSuccess})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRecentRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := &core.Run{ID: id, TaskID: "t", Outcome: core.OutcomeRunning, StartedAt: base.Add(time.Duration(i) * 500 * time.Millisecond)}
		require.NoError(t, s.InsertRun(ctx, run))
		run.Outcome = core.OutcomeSuccess
		run.Steps = []core.Step{{Name: "only", Outcome: core.StepOK}}
		require.NoError(t, s.CompleteRun(ctx, run))
	}

	runs, err := s.ListRecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Len(t, runs[0].Steps, 1)
}

func TestPruneRunsKeepsNewest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)
	for i := range 5 {
		run := &core.Run{ID: string(rune('a' + i)), TaskID: "t", Outcome: core.OutcomeSuccess, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, s.InsertRun(ctx, run))
	}
	require.NoError(t, s.InsertRun(ctx, &core.Run{ID: "other", TaskID: "u", Outcome: core.OutcomeSuccess, StartedAt: base}))

	require.NoError(t, s.PruneRuns(ctx, "t", 2))

	runs, err := s.ListRecentRuns(ctx, 10)
	require.NoError(t, err)
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"e", "d", "other"}, ids)
}

func TestRecordsUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertRecord(ctx, core.ExecutionRecord{TaskID: "t", LastRunAt: &at, LastOutcome: core.OutcomeRunning, Running: true}))
	require.NoError(t, s.UpsertRecord(ctx, core.ExecutionRecord{TaskID: "t", LastRunAt: &at, LastOutcome: core.OutcomeSuccess, RunCount: 1}))
	require.NoError(t, s.UpsertRecord(ctx, core.ExecutionRecord{TaskID: "a", LastOutcome: core.OutcomeNeverRun}))

	records, err := s.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].TaskID)
	assert.Nil(t, records[0].LastRunAt)
	assert.Equal(t, core.OutcomeSuccess, records[1].LastOutcome)
	assert.Equal(t, 1, records[1].RunCount)
	assert.False(t, records[1].Running)

	require.NoError(t, s.DeleteRecord(ctx, "t"))
	records, err = s.ListRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestLedgerSurvivesRestart(t *testing.T) {
	s := openTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledger := core.NewLedger(s, logger, 10)
	runID := ledger.RecordStart("sync-cycle")
	ledger.RecordEnd(runID, core.Result{
		Outcome:    core.OutcomeSuccess,
		FinalState: "Completed",
		Steps:      []core.Step{{Name: "pause_sync", Outcome: core.StepOK}},
	})
	skipped := ledger.RecordStart("sync-cycle")
	ledger.RecordEnd(skipped, core.Result{Outcome: core.OutcomeSkipped})

	restored := core.NewLedger(s, logger, 10)
	require.NoError(t, restored.Load(context.Background()))

	last, ok := restored.LastCompleted("sync-cycle")
	require.True(t, ok)
	assert.Equal(t, runID, last.ID)
	assert.Len(t, last.Steps, 1)

	rec, ok := restored.LastRun("sync-cycle")
	require.True(t, ok)
	assert.Equal(t, 2, rec.RunCount)
	assert.Equal(t, core.OutcomeSkipped, rec.LastOutcome)
	assert.Len(t, restored.RecentRuns(0), 2)
}
