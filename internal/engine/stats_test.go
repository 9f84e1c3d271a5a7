package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndjobi/internal/domain"
	"ndjobi/internal/engine"
)

func TestSnapshotBucketsPartition(t *testing.T) {
	env := newTestEnv(t)
	asOf := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)

	// Three cases in the anticorruption queue, one per bucket.
	pending := createReport(t, env, "corruption")
	_ = pending
	active := createReport(t, env, "detournement")
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: active.ID, Target: domain.StatusInProgress, ActorID: "agent-1"})
	require.NoError(t, err)
	done := createReport(t, env, "corruption")
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: done.ID, Target: domain.StatusInvestigation, ActorID: "agent-1"})
	require.NoError(t, err)
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: done.ID, Target: domain.StatusResolved, ActorID: "agent-1"})
	require.NoError(t, err)
	// And one in another queue, which must not leak in.
	createReport(t, env, "defense")

	snap, err := env.Engine.Snapshot(env.Ctx, "agent_anticorruption", asOf)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 1, snap.Pending)
	assert.Equal(t, 1, snap.InProgress)
	assert.Equal(t, 1, snap.Resolved)
	assert.Equal(t, snap.Total, snap.Pending+snap.InProgress+snap.Resolved,
		"every report counted in exactly one bucket")
	assert.Equal(t, map[string]int{"corruption": 2, "detournement": 1}, snap.ByType)
	assert.InDelta(t, 1.0/3.0, snap.SuccessRate, 1e-9)
}

func TestSnapshotMonthWindows(t *testing.T) {
	env := newTestEnv(t)

	env.Engine.Now = func() time.Time { return time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC) }
	createReport(t, env, "fraude")
	env.Engine.Now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	createReport(t, env, "abus_pouvoir")
	env.Engine.Now = func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) }
	createReport(t, env, "fraude")
	// January is outside both windows.
	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC) }
	createReport(t, env, "fraude")

	snap, err := env.Engine.Snapshot(env.Ctx, "agent_justice", time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, 2, snap.ThisMonth, "march reports, first-of-month inclusive")
	assert.Equal(t, 1, snap.LastMonth, "february report")
}

func TestSnapshotEmptyRole(t *testing.T) {
	env := newTestEnv(t)
	snap, err := env.Engine.Snapshot(env.Ctx, "sub_admin_dgr", time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.SuccessRate, "empty set must not divide by zero")
}

func TestSnapshotUnknownRole(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Snapshot(env.Ctx, "agent_peche", time.Now())
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSnapshotCancelledContext(t *testing.T) {
	env := newTestEnv(t)
	createReport(t, env, "securite")
	ctx, cancel := context.WithCancel(env.Ctx)
	cancel()
	_, err := env.Engine.Snapshot(ctx, "sub_admin_dgss", time.Now())
	require.ErrorIs(t, err, context.Canceled)
}
