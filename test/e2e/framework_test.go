// Package e2e exercises the full server stack over a loopback TCP
// connection: real stores on temporary directories, the production
// handler registry, and the reference client.
package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzfs/quartz/pkg/client"
	"github.com/quartzfs/quartz/pkg/server"
	"github.com/quartzfs/quartz/pkg/server/handlers"
	"github.com/quartzfs/quartz/pkg/storage"
	"github.com/quartzfs/quartz/pkg/store/metadata/badger"
	"github.com/quartzfs/quartz/pkg/store/users"
)

// testChunkSize keeps multi-chunk transfers cheap in tests.
const testChunkSize = 64 * 1024

// testServer is one running server instance with its backing stores.
type testServer struct {
	srv  *server.Server
	addr string
}

// startServer boots a server on an ephemeral loopback port with fresh
// stores, and tears everything down with the test.
func startServer(t *testing.T, cfg server.Config) *testServer {
	t.Helper()

	userStore, err := users.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { userStore.Close() })

	meta, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	disk, err := storage.NewDisk(t.TempDir())
	require.NoError(t, err)

	registry := server.NewRegistry()
	handlers.RegisterAll(registry, &handlers.Env{
		Users:     userStore,
		Meta:      meta,
		Disk:      disk,
		ChunkSize: testChunkSize,
	})

	cfg.Host = "127.0.0.1"
	srv := server.New(cfg, registry, meta, disk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down in time")
		}
	})

	return &testServer{srv: srv, addr: srv.Addr()}
}

// dial connects a reference client to the test server.
func (ts *testServer) dial(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.Dial(ts.addr)
	require.NoError(t, err)
	c.Timeout = 10 * time.Second
	t.Cleanup(func() { c.Close() })
	return c
}

// dialAndLogin registers an account (ignoring "already taken") and logs
// in on a fresh connection.
func (ts *testServer) dialAndLogin(t *testing.T, username, password string) *client.Client {
	t.Helper()
	c := ts.dial(t)
	ctx := context.Background()
	if _, err := c.CreateAccount(ctx, username, password, username+"@example.com"); err != nil {
		var serverErr *client.ServerError
		require.ErrorAs(t, err, &serverErr)
	}
	_, err := c.Login(ctx, username, password)
	require.NoError(t, err)
	return c
}

// patternBytes returns n deterministic non-repeating-period bytes.
func patternBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i*7 + i/255) % 256)
	}
	return b
}
