package client

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/rollout/pkg/api"
	"github.com/cuemby/rollout/pkg/cluster"
	"github.com/cuemby/rollout/pkg/deploy"
	"github.com/cuemby/rollout/pkg/fault"
	"github.com/cuemby/rollout/pkg/manager"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:     "manager-1",
		DataDir:    t.TempDir(),
		InMemory:   true,
		Clock:      testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		SeedSearch: 1,
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Bootstrap())
	t.Cleanup(func() { mgr.Shutdown() })
	require.Eventually(t, mgr.IsLeader, 5*time.Second, 20*time.Millisecond)

	srv := httptest.NewServer(api.NewServer(mgr))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	return c
}

func TestClusterLifecycle(t *testing.T) {
	c := newTestClient(t)

	user := &types.UserConfig{
		Version:          "1",
		ReliabilityLevel: types.ReliabilityBronze,
		NodeTypes:        []types.NodeType{{Name: "nt1vm", IsPrimary: true, VMInstanceCount: 3}},
		Security: &types.Security{
			ClusterCredentialType: "X509",
			CertificateInformation: types.CertificateInformation{
				ClusterCertificate: &types.CertificateDescription{Thumbprint: "A"},
			},
		},
	}
	r, err := c.CreateCluster("c1", user, nil)
	require.NoError(t, err)
	assert.Equal(t, "c1", r.ID)
	assert.Equal(t, cluster.PhaseUninitialized, r.Phase())

	_, err = c.CreateCluster("c1", user, nil)
	assert.True(t, errors.Is(err, errors.AlreadyExists))

	list, err := c.ListClusters()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	bad := *user
	bad.ReliabilityLevel = "Diamond"
	_, err = c.SetTargetUserConfig("c1", &bad)
	require.Error(t, err)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, fault.InvalidReliabilityLevel, apiErr.Code)

	manifests, err := c.ListManifests("c1")
	require.NoError(t, err)
	assert.Empty(t, manifests)

	require.NoError(t, c.DeleteCluster("c1"))
	_, err = c.GetCluster("c1")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestJoinControlPlaneRejectsBadToken(t *testing.T) {
	c := newTestClient(t)

	err := c.JoinControlPlane("manager-2", "127.0.0.1:7947", "bad")
	assert.True(t, errors.Is(err, errors.Unauthorized))

	jt, err := c.GenerateJoinToken(time.Minute)
	require.NoError(t, err)
	assert.Len(t, jt.Token, 64)
}

func TestReportDeploymentWithoutTracker(t *testing.T) {
	c := newTestClient(t)
	err := c.ReportDeployment("c1", deploy.Report{ManifestVersion: "1", Outcome: deploy.OutcomeConverged})
	assert.True(t, errors.Is(err, errors.NotSupported))
}

func TestNewClientAddsScheme(t *testing.T) {
	c, err := NewClient("manager:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://manager:8080", c.base)

	_, err = NewClient("")
	assert.True(t, errors.Is(err, errors.NotValid))
}
