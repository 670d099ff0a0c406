package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbitra-ai/oversight/pkg/capability"
	"github.com/arbitra-ai/oversight/pkg/hitl"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestServerIsRequired(t *testing.T) {
	_, err := execute(t, "task", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server is required")
}

func TestTaskList(t *testing.T) {
	task := hitl.HumanTask{
		ID:       "hitl_1",
		Type:     hitl.TaskTypeEscalation,
		Priority: hitl.PriorityCritical,
		Status:   hitl.StatusPending,
		Title:    "Review sql_injection finding",
		Deadline: time.Now().Add(5 * time.Minute),
	}
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/tasks", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]hitl.HumanTask{task})
	}))
	defer server.Close()

	t.Run("table output", func(t *testing.T) {
		out, err := execute(t, "task", "list", "--server", server.URL, "--token", "tok-123")
		require.NoError(t, err)
		assert.Contains(t, out, "hitl_1")
		assert.Contains(t, out, "critical")
		assert.Equal(t, "Bearer tok-123", gotAuth)
	})

	t.Run("json output", func(t *testing.T) {
		out, err := execute(t, "task", "list", "--server", server.URL, "--token", "tok-123", "-o", "json")
		require.NoError(t, err)

		var tasks []hitl.HumanTask
		require.NoError(t, json.Unmarshal([]byte(out), &tasks))
		require.Len(t, tasks, 1)
		assert.Equal(t, "hitl_1", tasks[0].ID)
	})
}

func TestTokenMintTTLFlag(t *testing.T) {
	var got capability.MintRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(capability.MintResponse{Token: "payload.sig"})
	}))
	defer server.Close()

	t.Run("omitted ttl stays unset", func(t *testing.T) {
		out, err := execute(t, "token", "mint", "--server", server.URL, "--token", "tok-123",
			"--tool", "scanner", "--caller", "agent-1", "--action", "read")
		require.NoError(t, err)
		assert.Contains(t, out, "payload.sig")
		assert.Nil(t, got.TTLSeconds)
	})

	t.Run("explicit zero ttl is sent", func(t *testing.T) {
		_, err := execute(t, "token", "mint", "--server", server.URL, "--token", "tok-123",
			"--tool", "scanner", "--caller", "agent-1", "--ttl", "0")
		require.NoError(t, err)
		require.NotNil(t, got.TTLSeconds)
		assert.Zero(t, *got.TTLSeconds)
	})
}

func TestServerErrorIsSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"task hitl_missing not found"}`))
	}))
	defer server.Close()

	_, err := execute(t, "task", "show", "hitl_missing", "--server", server.URL, "--token", "tok-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task hitl_missing not found")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
