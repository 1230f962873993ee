package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbracken/gridpoll/internal/models"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDeviceRoundTrip(t *testing.T) {
	db := newTestDB(t)

	profile := &models.ConnectionProfile{Name: "Daily"}
	require.NoError(t, db.SaveProfile(profile))
	require.NotZero(t, profile.ID)

	dev := &models.Device{
		Acronym:          "SUB1",
		Name:             "Substation One",
		Enabled:          true,
		OriginalSource:   "Sub_One",
		ConnectionString: "host=10.0.0.5",
		Schedule:         "*/15 * * * *",
		ProfileID:        profile.ID,
	}
	require.NoError(t, db.SaveDevice(dev))
	require.NotZero(t, dev.ID)

	got, err := db.GetDevice("SUB1")
	require.NoError(t, err)
	assert.Equal(t, dev.ID, got.ID)
	assert.Equal(t, "Sub_One", got.OriginalSource)
	assert.Equal(t, "*/15 * * * *", got.Schedule)
	assert.Nil(t, got.LastRun)

	// Upsert by acronym keeps the id stable.
	dev.Name = "Renamed"
	require.NoError(t, db.SaveDevice(dev))
	devices, err := db.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "Renamed", devices[0].Name)

	require.NoError(t, db.UpdateDeviceLastRun(dev.ID, time.Now()))
	got, err = db.GetDevice("SUB1")
	require.NoError(t, err)
	assert.NotNil(t, got.LastRun)
}

func TestProfileTasksOrdered(t *testing.T) {
	db := newTestDB(t)

	profile := &models.ConnectionProfile{Name: "p"}
	require.NoError(t, db.SaveProfile(profile))

	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, db.SaveProfileTask(&models.ConnectionProfileTask{
			ProfileID: profile.ID,
			Name:      name,
			Settings:  "remotePath=/" + name,
		}))
	}

	tasks, err := db.ListProfileTasks(profile.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "first", tasks[0].Name)
	assert.Equal(t, "third", tasks[2].Name)
}

func TestTaskQueueDequeueMarksProcessed(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.EnqueueTask(1, 10))
	require.NoError(t, db.EnqueueTask(1, 11))
	require.NoError(t, db.EnqueueTask(2, 12))

	queued, err := db.DequeueTasks(1)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.True(t, queued[0].Processed)

	// Second drain finds nothing; the other device's row is untouched.
	queued, err = db.DequeueTasks(1)
	require.NoError(t, err)
	assert.Empty(t, queued)
	queued, err = db.DequeueTasks(2)
	require.NoError(t, err)
	assert.Len(t, queued, 1)
}

func TestStatusLogUpserts(t *testing.T) {
	db := newTestDB(t)

	missing, err := db.GetStatusLog(9)
	require.NoError(t, err)
	assert.Nil(t, missing)

	now := time.Now()
	require.NoError(t, db.UpsertStatusFailure(9, "a.dat", "timeout", now))
	require.NoError(t, db.UpsertStatusSuccess(9, "b.dat", now.Add(time.Minute)))

	row, err := db.GetStatusLog(9)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "b.dat", row.LastFile)
	assert.NotNil(t, row.LastSuccess)
	assert.NotNil(t, row.LastFailure)
	assert.Empty(t, row.Message)
}
