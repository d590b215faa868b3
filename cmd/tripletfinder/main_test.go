package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/db"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/storage/sqlite"
)

func testEvent() eventConfig {
	return eventConfig{
		Stations: 4,
		Spacing:  10,
		RadThick: 0.005,
		Tracks:   5,
		Noise:    3,
		Smear:    0.01,
		Seed:     7,
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "", *configPath)
	assert.Equal(t, "", *dbPath)
	assert.Equal(t, "", *metricsListen)
	assert.Equal(t, 6, *nStations)
	assert.Equal(t, int64(1), *seed)
}

// ---------------------------------------------------------------------------
// Event generation
// ---------------------------------------------------------------------------

func TestEventConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *eventConfig)
		wantErr bool
	}{
		{"valid", func(c *eventConfig) {}, false},
		{"too few stations", func(c *eventConfig) { c.Stations = 2 }, true},
		{"too many stations", func(c *eventConfig) { c.Stations = 65 }, true},
		{"zero spacing", func(c *eventConfig) { c.Spacing = 0 }, true},
		{"negative noise", func(c *eventConfig) { c.Noise = -1 }, true},
		{"zero smear", func(c *eventConfig) { c.Smear = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := testEvent()
			tt.mutate(&c)
			err := c.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildSetup(t *testing.T) {
	t.Parallel()
	c := testEvent()
	c.FieldY = 5
	setup, err := buildSetup(c)
	require.NoError(t, err)
	require.Equal(t, 4, setup.NumStations())
	assert.Equal(t, 10.0, setup.Stations[0].Z)
	assert.Equal(t, 40.0, setup.Stations[3].Z)
	assert.True(t, setup.Stations[0].FieldStatus)
	assert.Equal(t, 5.0, setup.VertexField.Y)

	rt, ok := setup.Material.Lookup(2, 1, 1)
	require.True(t, ok)
	assert.Equal(t, 0.005, rt)

	noField, err := buildSetup(testEvent())
	require.NoError(t, err)
	for _, st := range noField.Stations {
		assert.False(t, st.FieldStatus)
	}
}

func TestGenerateEvent(t *testing.T) {
	t.Parallel()
	c := testEvent()
	setup, err := buildSetup(c)
	require.NoError(t, err)

	hs := generateEvent(c, setup)
	assert.Equal(t, c.Tracks*c.Stations+c.Noise*c.Stations, hs.Len())
	assert.Zero(t, hs.Rejected)
	for s := 0; s < c.Stations; s++ {
		start, end := hs.StationRange(s)
		assert.Equal(t, c.Tracks+c.Noise, end-start, "station %d", s)
		for _, h := range hs.Hits[start:end] {
			assert.Equal(t, setup.Stations[s].Z, h.Z)
		}
	}

	again := generateEvent(c, setup)
	assert.Equal(t, hs.Hits, again.Hits, "same seed must give the same event")
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func TestRunPrintsSummaryPerIteration(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, `{
  "engine": {"workers": 2, "chunk_size": 4},
  "iterations": [{"name": "FastPrim"}, {"name": "AllPrim", "max_qp": 10}]
}`)

	var out bytes.Buffer
	err := run(context.Background(), &out, testEvent(), cfg, "")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "FastPrim"))
	assert.Contains(t, lines[0], "valid=")
	assert.Contains(t, lines[1], "fit_triplets=")
	assert.True(t, strings.HasPrefix(lines[2], "AllPrim"))
}

func TestRunStoresResults(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, `{"iterations": [{"name": "FastPrim"}]}`)
	dbFile := filepath.Join(t.TempDir(), "runs.db")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &out, testEvent(), cfg, dbFile))
	assert.Contains(t, out.String(), "stored FastPrim as run ")

	database, err := db.NewDB(dbFile)
	require.NoError(t, err)
	defer database.Close()

	runs, err := sqlite.NewRunStore(database.DB).List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "FastPrim", runs[0].Iteration)
	assert.Equal(t, 32, runs[0].NHits)
}

func TestRunRejectsBadInput(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer

	bad := testEvent()
	bad.Stations = 1
	assert.Error(t, run(context.Background(), &out, bad, "", ""))

	assert.Error(t, run(context.Background(), &out, testEvent(), "/nonexistent/tuning.json", ""))

	cfg := writeConfig(t, `{"target": {"z": 15}}`)
	assert.Error(t, run(context.Background(), &out, testEvent(), cfg, ""), "target inside the setup")
}
