package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/sushant-115/microblog-uds/config"
	"github.com/sushant-115/microblog-uds/pkg/connection"
	"github.com/sushant-115/microblog-uds/pkg/logger"
	"github.com/sushant-115/microblog-uds/pkg/telemetry"
)

type cluster struct {
	coordinator *Node
	coordSrv    *httptest.Server
	workers     []*Node
	workerSrvs  []*httptest.Server
	client      *connection.Manager
}

func testConfig(role config.Role) config.Config {
	cfg := config.Default()
	cfg.Role = role
	cfg.RPCTimeout = 2 * time.Second
	cfg.DialTimeout = time.Second
	cfg.JoinRetries = 1
	return cfg
}

func hostPort(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func startCluster(t *testing.T, workers int) *cluster {
	t.Helper()
	log := zaptest.NewLogger(t)
	c := &cluster{client: connection.NewManager(connection.Options{Timeout: 5 * time.Second}, zap.NewNop())}
	t.Cleanup(c.client.Close)

	var err error
	c.coordinator, err = New(testConfig(config.RoleCoordinator), log, nil)
	require.NoError(t, err)
	c.coordSrv = httptest.NewServer(c.coordinator.Handler())
	t.Cleanup(c.coordSrv.Close)

	for i := 0; i < workers; i++ {
		cfg := testConfig(config.RoleWorker)
		cfg.CoordinatorAddr = hostPort(c.coordSrv)
		n, err := New(cfg, log, nil)
		require.NoError(t, err)
		srv := httptest.NewServer(n.Handler())
		t.Cleanup(srv.Close)
		require.NoError(t, n.Join(context.Background(), hostPort(srv)))
		c.workers = append(c.workers, n)
		c.workerSrvs = append(c.workerSrvs, srv)
	}
	return c
}

func (c *cluster) store(i int) *connection.StoreClient {
	return connection.NewStoreClient(c.client, c.workerSrvs[i].URL)
}

func TestCluster_PutReplicatesToEveryWorker(t *testing.T) {
	c := startCluster(t, 3)
	require.Len(t, c.coordinator.Coordinator.Nodes(), 3)
	ctx := context.Background()

	resp, err := c.store(0).Register(ctx, "alice", "10.0.0.1:9000")
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Msg)
	require.Equal(t, "10.0.0.1:9000", resp.Data.Value)

	for i := range c.workers {
		addr, ok, err := c.store(i).Resolve(ctx, "alice")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "10.0.0.1:9000", addr)
		require.Empty(t, c.workers[i].Worker.Pending())
	}

	all, err := c.store(2).All(ctx)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:9000", all.Data["alice"].Value)
}

func TestCluster_UnreachableWorkerAbortsWrite(t *testing.T) {
	c := startCluster(t, 2)
	c.workerSrvs[1].Close()
	ctx := context.Background()

	resp, err := c.store(0).Register(ctx, "bob", "X")
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Empty(t, resp.Data.Value)

	_, ok, err := c.store(0).Resolve(ctx, "bob")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, c.workers[0].Worker.Pending())
}

func TestCluster_CoordinatorStatus(t *testing.T) {
	c := startCluster(t, 2)
	_, err := c.store(1).Register(context.Background(), "carol", "10.0.0.3:9000")
	require.NoError(t, err)

	status, err := connection.NewCoordinatorClient(c.client, c.coordSrv.URL, 0).Status(context.Background())
	require.NoError(t, err)
	require.True(t, status.Success)
	require.Equal(t, uint64(1), status.Data.NextTxnID)
	require.Equal(t, []string{hostPort(c.workerSrvs[0]), hostPort(c.workerSrvs[1])}, status.Data.Nodes)
}

func TestJoin_FailsAfterRetries(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	cfg := testConfig(config.RoleWorker)
	cfg.CoordinatorAddr = hostPort(dead)
	cfg.JoinRetries = 2
	cfg.JoinRetryDelay = 10 * time.Millisecond
	n, err := New(cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	require.Error(t, n.Join(context.Background(), "10.0.0.9:8080"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	n, err := New(testConfig(config.RoleCoordinator), zap.NewNop(), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	n.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(logger.RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(logger.RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	n.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get(logger.RequestIDHeader))
}

func TestMetricsMountedOnNodeListener(t *testing.T) {
	tel, shutdown, err := telemetry.New(telemetry.Config{Enabled: true, ServiceName: "uds-test"})
	require.NoError(t, err)
	defer shutdown(context.Background())

	n, err := New(testConfig(config.RoleCoordinator), zap.NewNop(), tel)
	require.NoError(t, err)
	srv := httptest.NewServer(n.Handler())
	defer srv.Close()

	_, err = n.Coordinator.Start(context.Background(), "alice", "a")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNew_UnknownRole(t *testing.T) {
	_, err := New(testConfig("LEADER"), zap.NewNop(), nil)
	require.Error(t, err)
}
