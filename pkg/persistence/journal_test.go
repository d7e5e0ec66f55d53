package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connectorwiz/pkg/classify"
	"connectorwiz/pkg/history"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalSessionLifecycle(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.BeginSession("sess-1", "source"))

	attempt := &history.Attempt{
		Index:        0,
		CodeSnapshot: "print('v1')",
		ErrorLogs:    "Traceback (most recent call last):\nValueError: bad",
		Classification: classify.Result{
			Outcome:    classify.OutcomeFailure,
			Confidence: classify.ConfidenceHigh,
		},
		Timestamp: time.Now(),
	}
	require.NoError(t, j.RecordAttempt("sess-1", attempt))

	attempt2 := &history.Attempt{
		Index:          1,
		CodeSnapshot:   "print('v2')",
		ErrorLogs:      "wrote 120 records",
		ReasoningTrace: []string{"fixed the value parsing"},
		Classification: classify.Result{
			Outcome:    classify.OutcomeSuccess,
			Confidence: classify.ConfidenceHigh,
		},
		Timestamp: time.Now(),
	}
	require.NoError(t, j.RecordAttempt("sess-1", attempt2))

	require.NoError(t, j.FinishSession("sess-1", "SUCCESS", "SUCCESS", false))

	sess, err := j.Session("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "source", sess.WorkflowKind)
	assert.Equal(t, "SUCCESS", sess.Outcome)
	assert.Equal(t, 2, sess.AttemptCount)
	assert.False(t, sess.Override)
	require.NotNil(t, sess.FinishedAt)

	attempts, err := j.Attempts("sess-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "print('v1')", attempts[0].Code)
	assert.Equal(t, "FAILURE", attempts[0].Outcome)
	assert.Equal(t, "fixed the value parsing", attempts[1].Reasoning)
}

func TestJournalRecordsOperatorOverride(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.BeginSession("sess-2", "sink"))
	require.NoError(t, j.FinishSession("sess-2", "SUCCESS", "SUCCESS", true))

	sess, err := j.Session("sess-2")
	require.NoError(t, err)
	assert.True(t, sess.Override, "continue-anyway success must be distinguishable")
}

func TestJournalFinishUnknownSession(t *testing.T) {
	j := openTestJournal(t)

	err := j.FinishSession("missing", "ABORTED", "ABORTED", false)
	assert.ErrorContains(t, err, "not found")
}

func TestJournalDuplicateAttemptIndexRejected(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.BeginSession("sess-3", "source"))
	a := &history.Attempt{Index: 0, CodeSnapshot: "x", Timestamp: time.Now()}
	require.NoError(t, j.RecordAttempt("sess-3", a))
	assert.Error(t, j.RecordAttempt("sess-3", a))
}
