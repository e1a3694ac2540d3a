package scan_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panoptigo/gateway/internal/scan"
)

func TestContinuousScanActor_EmitsCreateEvent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "seed.jpg"), "seed")

	actor, err := scan.NewContinuousScanActor(scan.FolderConfig{Path: root})
	require.NoError(t, err)
	defer actor.Close()

	newPath := filepath.Join(root, "new.jpg")
	require.NoError(t, os.WriteFile(newPath, []byte("new"), 0o644))

	select {
	case ev := <-actor.Events():
		assert.Contains(t, ev.Path, "new.jpg")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for create event")
	}
}

func TestContinuousScanActor_PauseSuppressesEvents(t *testing.T) {
	root := t.TempDir()
	actor, err := scan.NewContinuousScanActor(scan.FolderConfig{Path: root})
	require.NoError(t, err)
	defer actor.Close()

	actor.Pause()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.jpg"), []byte("x"), 0o644))

	select {
	case <-actor.Events():
		t.Fatal("expected no events while paused")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestContinuousScanActor_ResumeBumpsEpoch(t *testing.T) {
	root := t.TempDir()
	actor, err := scan.NewContinuousScanActor(scan.FolderConfig{Path: root})
	require.NoError(t, err)
	defer actor.Close()

	before := actor.Epoch()
	actor.Pause()
	actor.Resume()
	assert.Greater(t, actor.Epoch(), before)
}
