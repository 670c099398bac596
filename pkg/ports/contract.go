package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContractRecord(runID string) *domain.RunRecord {
	state := domain.NewTraversalState(runID, "contract", 0)
	state.VisitCounts[0] = 1
	state.History = append(state.History, domain.HistoryEntry{From: 0, To: domain.End, Reason: domain.Success})
	state.Status = domain.StatusCompleted
	return &domain.RunRecord{
		RunID:       runID,
		Workflow:    "contract",
		Status:      domain.StatusCompleted,
		FinalOutput: "done",
		State:       state,
		Variables:   domain.Variables{domain.VarInput: "hi", domain.VarOutput: "done", "count": 42},
		StartedAt:   time.Now().Add(-time.Second).UTC(),
		FinishedAt:  time.Now().UTC(),
	}
}

// RunStoreContract runs a suite of tests to verify that a RunStore implementation
// adheres to the defined interface contract.
func RunStoreContract(t *testing.T, store RunStore) {
	ctx := context.Background()
	runID := "contract-run-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		rec := newContractRecord(runID)

		err := store.Save(ctx, rec)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, runID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, rec.RunID, loaded.RunID)
		assert.Equal(t, rec.Status, loaded.Status)
		assert.Equal(t, "done", loaded.FinalOutput)
		require.NotNil(t, loaded.State)
		assert.Equal(t, 1, loaded.State.VisitCounts[0])
		require.Len(t, loaded.State.History, 1)
		assert.Equal(t, domain.End, loaded.State.History[0].To)
		assert.Equal(t, "hi", loaded.Variables[domain.VarInput])
		// JSON backends turn ints into float64; only presence is part of the contract.
		assert.NotNil(t, loaded.Variables["count"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, newContractRecord(runID)))

		err := store.Delete(ctx, runID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound, "Load after Delete should return ErrRunNotFound")

		assert.NoError(t, store.Delete(ctx, runID), "Deleting twice is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := runID + "-1"
		id2 := runID + "-2"
		require.NoError(t, store.Save(ctx, newContractRecord(id1)))
		require.NoError(t, store.Save(ctx, newContractRecord(id2)))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		runs, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, runs, id1)
		assert.Contains(t, runs, id2)
	})
}
