package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/stitchkeep/internal/backup"
	"github.com/tonimelisma/stitchkeep/internal/identity"
	"github.com/tonimelisma/stitchkeep/internal/project"
)

// seedBackup stores a snapshot for user in env's backup database.
func seedBackup(t *testing.T, env *cliEnv, user string, projects ...*project.Project) {
	t.Helper()

	ctx := context.Background()

	store, err := backup.Open(ctx, filepath.Join(env.dataDir, "backup.db"), discardLogger())
	require.NoError(t, err)

	defer store.Close()

	snap := backup.Snapshot{Projects: projects}
	if len(projects) > 0 {
		snap.CurrentProjectID = projects[0].ID
	}

	require.NoError(t, store.Save(ctx, user, snap))
}

func sampleProject(name string, row int) *project.Project {
	p := project.New(name, "", time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC))
	p.Row = row
	p.Increment("repeats")

	return p
}

func TestBackupList(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "backup", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No backups stored.")

	seedBackup(t, env, identity.GuestKey, sampleProject("Scarf", 4), sampleProject("Hat", 1))

	out, err = env.run(t, "backup", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "USER")
	assert.Contains(t, out, identity.GuestKey)

	out, err = env.run(t, "backup", "list", "--json")
	require.NoError(t, err)

	var rows []backupSummaryJSON
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, identity.GuestKey, rows[0].User)
	assert.Equal(t, 2, rows[0].Projects)
}

func TestBackupShow_DefaultsToCurrentUser(t *testing.T) {
	env := newCLIEnv(t)

	scarf := sampleProject("Scarf", 4)
	seedBackup(t, env, identity.GuestKey, scarf)

	out, err := env.run(t, "backup", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Backup for guest")
	assert.Contains(t, out, "Scarf")
	assert.Contains(t, out, "repeats=1")

	out, err = env.run(t, "backup", "show", "guest", "--json")
	require.NoError(t, err)

	var snap snapshotJSON
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, scarf.ID, snap.CurrentProjectID)
	require.Len(t, snap.Projects, 1)
	assert.Equal(t, 4, snap.Projects[0].Row)
}

func TestBackupShow_Missing(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "backup", "show", "nobody@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backup stored")
}

func TestBackupDelete(t *testing.T) {
	env := newCLIEnv(t)

	seedBackup(t, env, "someone@example.com", sampleProject("Socks", 2))

	_, err := env.run(t, "backup", "delete", "someone@example.com")
	require.NoError(t, err)

	_, err = env.run(t, "backup", "show", "someone@example.com")
	require.Error(t, err)
}

func TestFormatCounters(t *testing.T) {
	assert.Equal(t, "", formatCounters(nil))
	assert.Equal(t, "dec=2 inc=5", formatCounters(map[string]int{"inc": 5, "dec": 2}))
}
