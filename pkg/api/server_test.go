package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/cuemby/rollout/pkg/cluster"
	"github.com/cuemby/rollout/pkg/deploy"
	"github.com/cuemby/rollout/pkg/fault"
	"github.com/cuemby/rollout/pkg/manager"
	"github.com/cuemby/rollout/pkg/storage"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/cuemby/rollout/pkg/upgrade"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
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
	return NewServer(mgr)
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(method, path, &buf))
	return w
}

func decodeResource(t *testing.T, w *httptest.ResponseRecorder) *cluster.Resource {
	t.Helper()
	var r cluster.Resource
	require.NoError(t, json.NewDecoder(w.Body).Decode(&r))
	return &r
}

func testUser() *types.UserConfig {
	return &types.UserConfig{
		Version:            "1",
		CodeVersion:        "7.0.470.9590",
		ReliabilityLevel:   types.ReliabilityBronze,
		FaultDomainCount:   5,
		UpgradeDomainCount: 5,
		NodeTypes:          []types.NodeType{{Name: "nt1vm", IsPrimary: true, VMInstanceCount: 5}},
		Security: &types.Security{
			ClusterCredentialType: "X509",
			CertificateInformation: types.CertificateInformation{
				ClusterCertificate: &types.CertificateDescription{Thumbprint: "A"},
			},
		},
	}
}

func testNodes() []types.NodeStatus {
	var out []types.NodeStatus
	for i := 0; i < 5; i++ {
		out = append(out, types.NodeStatus{
			NodeDescription: types.NodeDescription{
				NodeName:      fmt.Sprintf("_nt1vm_%d", i),
				NodeTypeRef:   "nt1vm",
				IPAddress:     fmt.Sprintf("10.0.0.%d", i+4),
				FaultDomain:   fmt.Sprintf("fd:/%d", i),
				UpgradeDomain: strconv.Itoa(i),
			},
			NodeState:  types.NodeStateEnabled,
			InstanceID: 1,
		})
	}
	return out
}

func TestClusterRoutes(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/v1/clusters", CreateClusterRequest{ID: "c1", UserConfig: testUser()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, s, http.MethodPost, "/v1/clusters", CreateClusterRequest{ID: "c1", UserConfig: testUser()})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodPost, "/v1/clusters", CreateClusterRequest{ID: "c2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/v1/clusters/c1/nodes", testNodes())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	r := decodeResource(t, w)
	require.NotNil(t, r.Pending)
	assert.Equal(t, upgrade.KindBaseline, r.Pending.Kind)

	w = do(t, s, http.MethodPost, "/v1/clusters/c1/upgrade/complete", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, cluster.PhaseSteady, decodeResource(t, w).Phase())

	// no pending upgrade left to complete
	w = do(t, s, http.MethodPost, "/v1/clusters/c1/upgrade/complete", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	bad := testUser()
	bad.ReliabilityLevel = "Diamond"
	w = do(t, s, http.MethodPut, "/v1/clusters/c1/target/user", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var er ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&er))
	assert.Equal(t, fault.InvalidReliabilityLevel, er.Code)

	w = do(t, s, http.MethodGet, "/v1/clusters", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []*cluster.Resource
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Len(t, list, 1)

	w = do(t, s, http.MethodGet, "/v1/clusters/c1/manifests/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var m types.ClusterManifest
	require.NoError(t, json.NewDecoder(w.Body).Decode(&m))
	assert.Equal(t, "1", m.Version)

	w = do(t, s, http.MethodDelete, "/v1/clusters/c1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, s, http.MethodGet, "/v1/clusters/c1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeploymentReports(t *testing.T) {
	s := newTestServer(t)
	report := deploy.Report{ManifestVersion: "1", Outcome: deploy.OutcomeInProgress, DomainsDone: 1}

	w := do(t, s, http.MethodPost, "/v1/clusters/c1/deployment", report)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	tracker := deploy.NewTracker(testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	s.SetTracker(tracker)

	w = do(t, s, http.MethodPost, "/v1/clusters/c1/deployment", report)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodPost, "/v1/clusters", CreateClusterRequest{ID: "c1", UserConfig: testUser()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, s, http.MethodPost, "/v1/clusters/c1/deployment", deploy.Report{ManifestVersion: "1", Outcome: "sideways"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/v1/clusters/c1/deployment", report)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	target := &types.ExternalState{ClusterManifest: &types.ClusterManifest{Name: "c1", Version: "1"}}
	obs := tracker.Observe("c1", target)
	assert.Equal(t, deploy.OutcomeInProgress, obs.Outcome)
	assert.True(t, obs.Progressed)

	w = do(t, s, http.MethodPost, "/v1/clusters/c1/running", target)
	require.Equal(t, http.StatusAccepted, w.Code)
	running, ok := tracker.Observed("c1")
	require.True(t, ok)
	assert.Equal(t, "1", running.ManifestVersion())

	w = do(t, s, http.MethodDelete, "/v1/clusters/c1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	_, ok = tracker.Observed("c1")
	assert.False(t, ok)
}

func TestJoinRequiresToken(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/v1/controlplane/join", JoinRequest{NodeID: "manager-2", Address: "x", Token: "bad"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodPost, "/v1/controlplane/tokens", TokenRequest{})
	require.Equal(t, http.StatusCreated, w.Code)
	var jt manager.JoinToken
	require.NoError(t, json.NewDecoder(w.Body).Decode(&jt))
	assert.NotEmpty(t, jt.Token)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fault.Newf(fault.InvalidPortRange, "bad"), http.StatusUnprocessableEntity},
		{fault.Invariantf("broken"), http.StatusInternalServerError},
		{errors.NotFoundf("cluster c1"), http.StatusNotFound},
		{errors.AlreadyExistsf("cluster c1"), http.StatusConflict},
		{errors.Annotate(storage.ErrVersionConflict, "c1"), http.StatusConflict},
		{errors.NotValidf("body"), http.StatusBadRequest},
		{errors.Unauthorizedf("token"), http.StatusUnauthorized},
		{errors.NotSupportedf("reports"), http.StatusNotImplemented},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, StatusCode(tt.err), tt.err.Error())
	}
}
