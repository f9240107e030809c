package geoindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajilotask/sajilo/internal/geoindex"
	"github.com/sajilotask/sajilo/internal/task"
)

func newTask(id, requesterID string, lat, lng float64, tier task.AllowedTier) *task.Task {
	return &task.Task{
		ID:          id,
		RequesterID: requesterID,
		AllowedTier: tier,
		Location:    task.Location{Lat: lat, Lng: lng},
	}
}

func TestNearbyRadius(t *testing.T) {
	idx, err := geoindex.New()
	require.NoError(t, err)
	defer idx.Close()

	// Kathmandu center, a task ~1.5km out, and Pokhara ~140km away
	require.NoError(t, idx.Add(newTask("close", "r1", 27.7172, 85.3240, task.TierAll)))
	require.NoError(t, idx.Add(newTask("near", "r1", 27.7123, 85.3380, task.TierAll)))
	require.NoError(t, idx.Add(newTask("far", "r1", 28.2096, 83.9856, task.TierAll)))

	ids, err := idx.Nearby(27.7172, 85.3240, 3, "caller", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"close", "near"}, ids, "results sorted closest first")

	ids, err = idx.Nearby(27.7172, 85.3240, 200, "caller", false)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestNearbyTierGate(t *testing.T) {
	idx, err := geoindex.New()
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(newTask("open", "r1", 27.7172, 85.3240, task.TierAll)))
	require.NoError(t, idx.Add(newTask("pro-only", "r1", 27.7175, 85.3245, task.TierPro)))

	ids, err := idx.Nearby(27.7172, 85.3240, 3, "caller", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"open"}, ids)

	ids, err = idx.Nearby(27.7172, 85.3240, 3, "caller", true)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestNearbyExcludesOwnTasks(t *testing.T) {
	idx, err := geoindex.New()
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(newTask("mine", "me", 27.7172, 85.3240, task.TierAll)))
	require.NoError(t, idx.Add(newTask("theirs", "them", 27.7173, 85.3241, task.TierAll)))

	ids, err := idx.Nearby(27.7172, 85.3240, 3, "me", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"theirs"}, ids)
}

func TestRemove(t *testing.T) {
	idx, err := geoindex.New()
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(newTask("gone", "r1", 27.7172, 85.3240, task.TierAll)))
	require.NoError(t, idx.Remove("gone"))

	ids, err := idx.Nearby(27.7172, 85.3240, 3, "caller", false)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
