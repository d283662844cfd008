package control

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawtext/refinery/internal/corpus"
	"github.com/lawtext/refinery/internal/engine"
	"github.com/lawtext/refinery/internal/gates"
	"github.com/lawtext/refinery/internal/orchestrator"
	"github.com/lawtext/refinery/internal/rules"
	"github.com/lawtext/refinery/internal/storage"
	"github.com/lawtext/refinery/internal/types"
	"github.com/lawtext/refinery/internal/version"
)

func startServer(t *testing.T, onCommand func(Command) (map[string]interface{}, error)) (*Server, *Client) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "ctl.sock")

	srv, err := NewServer(sock, onCommand)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })

	client := NewClient(sock)
	client.SetTimeout(2 * time.Second)
	return srv, client
}

func TestServerClientRoundTrip(t *testing.T) {
	var got Command
	_, client := startServer(t, func(cmd Command) (map[string]interface{}, error) {
		got = cmd
		return map[string]interface{}{"job_id": cmd.JobID}, nil
	})

	resp, err := client.Pause("job-42", "operator request")
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "job-42", resp.Data["job_id"])
	require.Equal(t, "pause", got.Type)
	require.Equal(t, "operator request", got.Reason)
	require.False(t, got.Timestamp.IsZero())
}

func TestServerReportsHandlerError(t *testing.T) {
	_, client := startServer(t, func(cmd Command) (map[string]interface{}, error) {
		return nil, fmt.Errorf("no active job %s", cmd.JobID)
	})

	resp, err := client.Stop("ghost", "")
	require.NoError(t, err, "handler errors travel in the response, not the transport")
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "no active job ghost")
}

func TestServerWithoutHandler(t *testing.T) {
	_, client := startServer(t, nil)

	resp, err := client.Status("")
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Contains(t, resp.Message, "no command handler")
}

func TestServerLifecycle(t *testing.T) {
	srv, client := startServer(t, func(Command) (map[string]interface{}, error) {
		return nil, nil
	})
	require.True(t, srv.IsRunning())

	require.Error(t, srv.Start(context.Background()), "double start must fail")

	require.NoError(t, srv.Stop())
	require.False(t, srv.IsRunning())
	_, err := os.Stat(srv.SocketPath())
	require.True(t, os.IsNotExist(err), "socket file removed on shutdown")

	_, err = client.Status("")
	require.Error(t, err, "clients cannot reach a stopped server")
}

func TestNewServerRemovesStaleSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "stale.sock")
	require.NoError(t, os.WriteFile(sock, []byte("leftover"), 0644))

	srv, err := NewServer(sock, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()
	require.True(t, srv.IsRunning())
}

func TestClientDialFailure(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "nobody-home.sock"))
	client.SetTimeout(200 * time.Millisecond)

	_, err := client.Status("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to connect")
}

// newIdleOrchestrator builds an orchestrator with no active job, enough to
// exercise command dispatch.
func newIdleOrchestrator(t *testing.T) (*orchestrator.Orchestrator, storage.Storage) {
	t.Helper()
	ctx := context.Background()

	st, err := storage.NewStorage(ctx, &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	store, err := rules.NewStore(st)
	require.NoError(t, err)
	vers, err := version.NewManager(st)
	require.NoError(t, err)
	eng := engine.New()
	runner, err := gates.NewRunner(&gates.Config{Engine: eng, Store: st})
	require.NoError(t, err)

	orch, err := orchestrator.New(orchestrator.Config{
		Engine:   eng,
		Store:    store,
		Storage:  st,
		Source:   corpus.NewMemory(nil),
		Gates:    runner,
		Versions: vers,
	})
	require.NoError(t, err)
	return orch, st
}

func TestHandlerDispatch(t *testing.T) {
	ctx := context.Background()
	orch, st := newIdleOrchestrator(t)
	handle := Handler(ctx, orch)

	// Control verbs need a job to act on.
	for _, verb := range []string{"stop", "pause", "resume"} {
		_, err := handle(Command{Type: verb})
		require.Error(t, err, verb)
		require.Contains(t, err.Error(), "no active job")
	}

	// Status with no job at all reports inactive.
	data, err := handle(Command{Type: "status"})
	require.NoError(t, err)
	require.Equal(t, false, data["active"])

	// Status for a historical job reads the persistent record.
	require.NoError(t, st.CreateJob(ctx, &types.ProcessingJob{
		JobID:          "hist-1",
		Scale:          types.ScaleBatch,
		Status:         types.JobCompleted,
		RulesVersion:   "v1.0.0",
		TotalCases:     10,
		ProcessedCases: 10,
		StartTime:      time.Now().UTC().Add(-time.Hour),
	}))
	data, err = handle(Command{Type: "status", JobID: "hist-1"})
	require.NoError(t, err)
	require.Equal(t, "hist-1", data["job_id"])
	require.Equal(t, "completed", data["status"])
	require.Equal(t, false, data["active"])
	require.Equal(t, 10, data["processed"])

	_, err = handle(Command{Type: "status", JobID: "missing"})
	require.Error(t, err)

	_, err = handle(Command{Type: "reboot"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown command")
}
