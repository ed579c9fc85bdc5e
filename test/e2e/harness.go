// Package e2e provides end-to-end test infrastructure for the gateway.
package e2e

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/octoagent/gateway/pkg/api"
	"github.com/octoagent/gateway/pkg/artifacts"
	"github.com/octoagent/gateway/pkg/dispatch"
	"github.com/octoagent/gateway/pkg/fallback"
	"github.com/octoagent/gateway/pkg/lmdriver"
	"github.com/octoagent/gateway/pkg/serializer"
	"github.com/octoagent/gateway/pkg/ssehub"
	"github.com/octoagent/gateway/pkg/store"
	"github.com/octoagent/gateway/pkg/taskservice"
)

// TestApp boots a complete gateway instance for e2e testing.
type TestApp struct {
	Store         *store.Store
	ArtifactStore *artifacts.Store
	Hub           *ssehub.Hub
	Launcher      *dispatch.Launcher
	Primary       *ScriptedProvider
	Manager       *fallback.Manager
	Tasks         *taskservice.Service
	Server        *api.Server

	BaseURL string

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	maxConcurrentTasks int
	artifactThreshold  int64
	queueSize          int
	primary            *ScriptedProvider
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithPrimary sets a pre-scripted primary provider in place of the
// default always-succeeding one.
func WithPrimary(p *ScriptedProvider) TestAppOption {
	return func(c *testAppConfig) { c.primary = p }
}

// WithArtifactThreshold overrides the inline/spill cutoff.
func WithArtifactThreshold(n int64) TestAppOption {
	return func(c *testAppConfig) { c.artifactThreshold = n }
}

// NewTestApp creates and starts a full gateway test instance backed by a
// temp-file sqlite database and an in-process HTTP listener on a random
// port. Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{
		maxConcurrentTasks: 8,
		artifactThreshold:  artifacts.InlineThreshold,
		queueSize:          ssehub.DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.primary == nil {
		tc.primary = NewScriptedProvider()
	}

	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "gateway.db")
	st, err := store.Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	artifactStore := artifacts.NewWithThreshold(st, t.TempDir(), tc.artifactThreshold)
	hub := ssehub.New(tc.queueSize, nil)
	ser := serializer.New(st, nil)
	launcher := dispatch.New(tc.maxConcurrentTasks, nil)
	manager := fallback.NewManager(tc.primary, fallback.EchoAdapter{}, nil)

	driver := lmdriver.New(st, ser, artifactStore, hub, manager, nil)
	tasks := taskservice.New(st, ser, hub, launcher, driver, nil)

	server := api.NewServer(nil, "core")
	server.SetTaskService(tasks)
	server.SetHub(hub)
	server.SetHistoryReader(st)
	require.NoError(t, server.ValidateWiring(), "server wiring incomplete")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = server.StartWithListener(ln) }()

	app := &TestApp{
		Store:         st,
		ArtifactStore: artifactStore,
		Hub:           hub,
		Launcher:      launcher,
		Primary:       tc.primary,
		Manager:       manager,
		Tasks:         tasks,
		Server:        server,
		BaseURL:       fmt.Sprintf("http://%s", ln.Addr().String()),
		t:             t,
	}

	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		launcher.Wait()
	})

	return app
}
