package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/rollout/pkg/api"
	"github.com/cuemby/rollout/pkg/cluster"
	"github.com/cuemby/rollout/pkg/deploy"
	"github.com/cuemby/rollout/pkg/fault"
	"github.com/cuemby/rollout/pkg/manager"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/errors"
)

const requestTimeout = 10 * time.Second

// Client talks to the control plane HTTP API
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the API at addr. addr may omit the scheme.
func NewClient(addr string) (*Client, error) {
	if addr == "" {
		return nil, errors.NotValidf("empty API address")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimSuffix(addr, "/"),
		http: &http.Client{Timeout: requestTimeout},
	}, nil
}

// NewUnixClient creates a client for the read-only local socket
func NewUnixClient(path string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
	return &Client{
		base: "http://unix",
		http: &http.Client{Timeout: requestTimeout, Transport: transport},
	}
}

// Error is a failed API request
type Error struct {
	StatusCode int
	Code       fault.ErrorCode
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// CreateCluster registers a new cluster
func (c *Client) CreateCluster(id string, user *types.UserConfig, admin *types.AdminConfig) (*cluster.Resource, error) {
	var r cluster.Resource
	req := api.CreateClusterRequest{ID: id, UserConfig: user, AdminConfig: admin}
	if err := c.do(http.MethodPost, "/v1/clusters", req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) GetCluster(id string) (*cluster.Resource, error) {
	var r cluster.Resource
	if err := c.do(http.MethodGet, "/v1/clusters/"+id, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) ListClusters() ([]*cluster.Resource, error) {
	var out []*cluster.Resource
	if err := c.do(http.MethodGet, "/v1/clusters", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteCluster(id string) error {
	return c.do(http.MethodDelete, "/v1/clusters/"+id, nil, nil)
}

// SetTargetUserConfig stages a new user configuration
func (c *Client) SetTargetUserConfig(id string, user *types.UserConfig) (*cluster.Resource, error) {
	return c.resource(http.MethodPut, "/v1/clusters/"+id+"/target/user", user)
}

// SetTargetAdminConfig stages a new admin configuration
func (c *Client) SetTargetAdminConfig(id string, admin *types.AdminConfig) (*cluster.Resource, error) {
	return c.resource(http.MethodPut, "/v1/clusters/"+id+"/target/admin", admin)
}

// UpdateNodesStatus reports node statuses
func (c *Client) UpdateNodesStatus(id string, updates []types.NodeStatus) (*cluster.Resource, error) {
	return c.resource(http.MethodPost, "/v1/clusters/"+id+"/nodes", updates)
}

// ReportObservedVersion reports what the cluster actually runs
func (c *Client) ReportObservedVersion(id string, observed *types.ExternalState) (*cluster.Resource, error) {
	return c.resource(http.MethodPost, "/v1/clusters/"+id+"/observed", observed)
}

// CompleteUpgrade reports the pending upgrade as converged
func (c *Client) CompleteUpgrade(id string) (*cluster.Resource, error) {
	return c.resource(http.MethodPost, "/v1/clusters/"+id+"/upgrade/complete", nil)
}

// RollbackUpgrade reports the pending upgrade as failed
func (c *Client) RollbackUpgrade(id, reason string) (*cluster.Resource, error) {
	return c.resource(http.MethodPost, "/v1/clusters/"+id+"/upgrade/rollback", api.RollbackRequest{Reason: reason})
}

// ReportDeployment forwards an orchestrator deployment report
func (c *Client) ReportDeployment(id string, report deploy.Report) error {
	return c.do(http.MethodPost, "/v1/clusters/"+id+"/deployment", report, nil)
}

// ReportRunning tells the control plane what a steady cluster runs
func (c *Client) ReportRunning(id string, observed *types.ExternalState) error {
	return c.do(http.MethodPost, "/v1/clusters/"+id+"/running", observed, nil)
}

func (c *Client) ListManifests(id string) ([]*types.ClusterManifest, error) {
	var out []*types.ClusterManifest
	if err := c.do(http.MethodGet, "/v1/clusters/"+id+"/manifests", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetManifest(id, version string) (*types.ClusterManifest, error) {
	var m types.ClusterManifest
	if err := c.do(http.MethodGet, "/v1/clusters/"+id+"/manifests/"+version, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GenerateJoinToken asks the leader for a control plane join token
func (c *Client) GenerateJoinToken(ttl time.Duration) (*manager.JoinToken, error) {
	var jt manager.JoinToken
	if err := c.do(http.MethodPost, "/v1/controlplane/tokens", api.TokenRequest{TTL: ttl}, &jt); err != nil {
		return nil, err
	}
	return &jt, nil
}

// JoinControlPlane asks the leader to add a manager as voter. It implements
// manager.Joiner.
func (c *Client) JoinControlPlane(nodeID, address, token string) error {
	req := api.JoinRequest{NodeID: nodeID, Address: address, Token: token}
	return c.do(http.MethodPost, "/v1/controlplane/join", req, nil)
}

func (c *Client) resource(method, path string, body interface{}) (*cluster.Resource, error) {
	var r cluster.Resource
	if err := c.do(method, path, body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) do(method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Trace(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return errors.Trace(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Annotatef(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Annotate(err, "decoding response")
	}
	return nil
}

// decodeError turns an error response back into an error carrying the same
// classification the server answered with
func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}
	var er api.ErrorResponse
	data, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		apiErr.Message = er.Error
		apiErr.Code = er.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.NewNotFound(apiErr, "")
	case http.StatusConflict:
		return errors.NewAlreadyExists(apiErr, "")
	case http.StatusBadRequest:
		return errors.NewNotValid(apiErr, "")
	case http.StatusUnauthorized:
		return errors.NewUnauthorized(apiErr, "")
	case http.StatusForbidden:
		return errors.NewForbidden(apiErr, "")
	case http.StatusNotImplemented:
		return errors.NewNotSupported(apiErr, "")
	default:
		return apiErr
	}
}
