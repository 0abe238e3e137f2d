package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearci/pkg/client"
)

func TestCreateJobSendsAuthAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/jobs", r.URL.Path)
		assert.Equal(t, "cck_test", r.Header.Get("X-API-Key"))

		var spec client.JobSpec
		require.NoError(t, json.NewDecoder(r.Body).Decode(&spec))
		assert.Equal(t, "nightly", spec.Name)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "3b241101-e2bb-4255-8caf-4136c566a962", "name": spec.Name, "status": "ACTIVE",
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL, client.WithAPIKey("cck_test"))

	job, err := c.CreateJob(context.Background(), client.JobSpec{
		Name: "nightly", Schedule: "0 2 * * *", Command: "make",
	})
	require.NoError(t, err)
	assert.Equal(t, "nightly", job.Name)
	assert.Equal(t, "ACTIVE", job.Status)
}

func TestBearerTokenTakesPrecedence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-API-Key"))
		json.NewEncoder(w).Encode(map[string]interface{}{"jobs": []interface{}{}})
	}))
	defer srv.Close()

	c := client.New(srv.URL, client.WithAPIKey("cck_test"), client.WithToken("tok"))

	_, err := c.ListJobs(context.Background(), 10, 0)
	require.NoError(t, err)
}

func TestAPIErrorCarriesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "a job with this name already exists"})
	}))
	defer srv.Close()

	c := client.New(srv.URL)

	_, err := c.CreateJob(context.Background(), client.JobSpec{Name: "dup"})
	require.Error(t, err)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "already exists")
}

func TestGetExecutionLogReturnsRawBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/executions/abc/log", r.URL.Path)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("$ make\nok\n"))
	}))
	defer srv.Close()

	c := client.New(srv.URL)

	data, err := c.GetExecutionLog(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "$ make\nok\n", string(data))
}

func TestTriggerJobReturnsExecutionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"message": "job triggered", "execution_id": "e-1",
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL)

	id, err := c.TriggerJob(context.Background(), "nightly")
	require.NoError(t, err)
	assert.Equal(t, "e-1", id)
}
