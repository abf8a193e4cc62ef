package task

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLifecycle(t *testing.T) {
	tk := New("", "app-1", "asset_download", map[string]string{"url": "https://example.com/a"})
	assert.NotEmpty(t, tk.ID())
	assert.Equal(t, StatusCreated, tk.Status())

	tk.Progress(10, "Downloading")
	tk.Progress(55, "")
	snap := tk.Snapshot()
	assert.Equal(t, 55, snap.Progress)
	assert.Equal(t, "Downloading", snap.Message)

	tk.Finished("Asset downloaded")
	snap = tk.Snapshot()
	assert.Equal(t, StatusFinished, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "Asset downloaded", snap.Message)
}

func TestTaskKeepsCallerSuppliedID(t *testing.T) {
	tk := New("gui-generated-id", "app-1", "search", nil)
	assert.Equal(t, "gui-generated-id", tk.ID())
}

func TestTerminalTaskIgnoresLateWrites(t *testing.T) {
	tk := New("", "app-1", "asset_download", nil)
	tk.Finished("done")

	// A straggling chunk callback must not be observable after delivery.
	tk.Progress(42, "late write")
	tk.SetResult(map[string]string{"oops": "late"})
	tk.Error("late error", "")

	snap := tk.Snapshot()
	assert.Equal(t, StatusFinished, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "done", snap.Message)
	assert.Nil(t, snap.Result)
}

func TestTaskErrorTagsCallsite(t *testing.T) {
	tk := New("", "app-1", "comments/get_comments", nil)
	tk.Error("Connection error", "dial tcp: connection refused")

	snap := tk.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Contains(t, snap.Message, "Connection error")
	assert.Contains(t, snap.Message, "task_test.go:")
	assert.Equal(t, "dial tcp: connection refused", snap.MessageDetailed)
}

func TestTaskKillCancelsAttachedOperation(t *testing.T) {
	tk := New("", "app-1", "asset_download", nil)
	ctx, cancel := context.WithCancel(context.Background())
	tk.AttachCancel(cancel)

	assert.False(t, tk.Killed())
	tk.Kill()
	assert.True(t, tk.Killed())

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected attached context to be canceled")
	}

	// Kill alone never flips the status; the operation does that itself.
	assert.Equal(t, StatusCreated, tk.Status())
}

func TestTaskKillBeforeAttach(t *testing.T) {
	tk := New("", "app-1", "asset_download", nil)
	tk.Kill()

	ctx, cancel := context.WithCancel(context.Background())
	tk.AttachCancel(cancel)
	select {
	case <-ctx.Done():
	default:
		t.Fatal("cancel attached after Kill must fire immediately")
	}
}

func TestSnapshotSerializationOmitsHandle(t *testing.T) {
	tk := New("", "app-1", "search", map[string]string{"urlquery": "q"})
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	tk.AttachCancel(cancel)

	raw, err := json.Marshal(tk.Snapshot())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "task_id")
	assert.Contains(t, decoded, "task_type")
	assert.NotContains(t, decoded, "cancel")
	assert.NotContains(t, decoded, "killed")
}

func TestNewMessageIsImmediatelyFinished(t *testing.T) {
	tk := NewMessage("app-1", "Download path too long, skipping directory")
	snap := tk.Snapshot()
	assert.Equal(t, StatusFinished, snap.Status)
	assert.Equal(t, "message", snap.TaskType)
	assert.Equal(t, 100, snap.Progress)
}
