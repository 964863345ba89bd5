package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pidginlab/pidgin/pkg/sharedstate"
)

func TestEndpoints(t *testing.T) {
	dir := t.TempDir()
	pub, err := sharedstate.NewPublisher(dir)
	require.NoError(t, err)
	defer pub.Close()

	srv := NewServer("127.0.0.1:0", dir)
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// No snapshot yet: status is unavailable, not a 500.
	resp, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, pub.Publish(&sharedstate.Snapshot{
		ExperimentID: "exp-obs",
		Status:       "running",
		Completed:    2,
		Total:        4,
	}))

	resp, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		ExperimentID string `json:"experiment_id"`
		Status       string `json:"status"`
		Completed    int    `json:"completed"`
		PublishedAt  string `json:"published_at"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "exp-obs", body.ExperimentID)
	assert.Equal(t, "running", body.Status)
	assert.Equal(t, 2, body.Completed)
	assert.NotEmpty(t, body.PublishedAt)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
