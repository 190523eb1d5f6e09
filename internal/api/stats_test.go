package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/stepwise/internal/engine"
	"github.com/seantiz/stepwise/internal/model"
)

func TestGetStatsEmpty(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var stats engine.Stats
	require.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/v1/stats", nil, &stats))

	assert.Zero(t, stats.Plans)
	assert.Zero(t, stats.AvgStepDurationMs)
}

func TestGetStatsPopulated(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for range 2 {
		var p model.Plan
		require.Equal(t, http.StatusCreated, doJSON(t, "POST", ts.URL+"/v1/plans", deployPlanRequest, &p))
		doJSON(t, "POST", ts.URL+"/v1/plans/"+p.ID+"/steps/0/complete", nil, nil)
		doJSON(t, "PUT", ts.URL+"/v1/plans/"+p.ID+"/steps/1/status", map[string]string{"status": "blocked"}, nil)
	}

	var stats engine.Stats
	require.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/v1/stats", nil, &stats))

	assert.Equal(t, 2, stats.Plans)
	assert.Equal(t, 6, stats.Steps)
	assert.Equal(t, 2, stats.ByStatus["completed"])
	assert.Equal(t, 2, stats.ByStatus["blocked"])
	assert.Equal(t, 2, stats.ByStatus["pending"])
}
