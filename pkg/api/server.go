package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cuemby/rollout/pkg/cluster"
	"github.com/cuemby/rollout/pkg/deploy"
	"github.com/cuemby/rollout/pkg/fault"
	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/manager"
	"github.com/cuemby/rollout/pkg/storage"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 4 << 20

// Server exposes the control plane over HTTP
type Server struct {
	manager *manager.Manager
	router  *mux.Router
	http    *http.Server
	unix    *http.Server
	logger  zerolog.Logger

	// tracker receives deployment reports from the orchestrator
	tracker *deploy.Tracker
}

// NewServer creates a new API server. A nil manager serves only the health
// endpoints.
func NewServer(mgr *manager.Manager) *Server {
	s := &Server{
		manager: mgr,
		router:  mux.NewRouter(),
		logger:  log.WithComponent("api"),
	}
	s.registerRoutes()
	return s
}

// SetTracker enables the deployment report routes
func (s *Server) SetTracker(t *deploy.Tracker) {
	s.tracker = t
}

// CreateClusterRequest is the body of POST /v1/clusters
type CreateClusterRequest struct {
	ID          string             `json:"id"`
	UserConfig  *types.UserConfig  `json:"userConfig"`
	AdminConfig *types.AdminConfig `json:"adminConfig,omitempty"`
}

// RollbackRequest is the body of POST /v1/clusters/{id}/upgrade/rollback
type RollbackRequest struct {
	Reason string `json:"reason"`
}

// PollRequest is the body of POST /v1/clusters/{id}/upgrade/poll
type PollRequest struct {
	Progressed bool `json:"progressed"`
}

// JoinRequest is the body of POST /v1/controlplane/join
type JoinRequest struct {
	NodeID  string `json:"nodeId"`
	Address string `json:"address"`
	Token   string `json:"token"`
}

// TokenRequest is the body of POST /v1/controlplane/tokens
type TokenRequest struct {
	TTL time.Duration `json:"ttl"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string          `json:"error"`
	Code  fault.ErrorCode `json:"code,omitempty"`
}

func (s *Server) registerRoutes() {
	s.router.Use(s.logRequests)

	s.registerHealthRoutes()

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/clusters", s.listClusters).Methods(http.MethodGet)
	v1.HandleFunc("/clusters", s.createCluster).Methods(http.MethodPost)
	v1.HandleFunc("/clusters/{id}", s.getCluster).Methods(http.MethodGet)
	v1.HandleFunc("/clusters/{id}", s.deleteCluster).Methods(http.MethodDelete)
	v1.HandleFunc("/clusters/{id}/target/user", s.setTargetUser).Methods(http.MethodPut)
	v1.HandleFunc("/clusters/{id}/target/admin", s.setTargetAdmin).Methods(http.MethodPut)
	v1.HandleFunc("/clusters/{id}/nodes", s.updateNodes).Methods(http.MethodPost)
	v1.HandleFunc("/clusters/{id}/observed", s.reportObserved).Methods(http.MethodPost)
	v1.HandleFunc("/clusters/{id}/upgrade/complete", s.completeUpgrade).Methods(http.MethodPost)
	v1.HandleFunc("/clusters/{id}/upgrade/rollback", s.rollbackUpgrade).Methods(http.MethodPost)
	v1.HandleFunc("/clusters/{id}/upgrade/poll", s.recordPoll).Methods(http.MethodPost)
	v1.HandleFunc("/clusters/{id}/deployment", s.reportDeployment).Methods(http.MethodPost)
	v1.HandleFunc("/clusters/{id}/running", s.reportRunning).Methods(http.MethodPost)
	v1.HandleFunc("/clusters/{id}/manifests", s.listManifests).Methods(http.MethodGet)
	v1.HandleFunc("/clusters/{id}/manifests/{version}", s.getManifest).Methods(http.MethodGet)
	v1.HandleFunc("/controlplane/tokens", s.generateToken).Methods(http.MethodPost)
	v1.HandleFunc("/controlplane/join", s.join).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	s.router.ServeHTTP(w, r)
}

// Start serves the API on addr until Stop is called
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("address", addr).Msg("HTTP API listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Annotate(err, "serving API")
	}
	return nil
}

// StartUnix serves a read-only view of the API on a Unix socket for local
// tooling
func (s *Server) StartUnix(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return errors.Annotate(err, "removing stale socket")
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return errors.Annotate(err, "listening on unix socket")
	}
	if err := os.Chmod(path, 0660); err != nil {
		lis.Close()
		return errors.Annotate(err, "restricting socket permissions")
	}

	s.unix = &http.Server{Handler: ReadOnly(s)}
	s.logger.Info().Str("socket", path).Msg("Read-only HTTP API listening")
	if err := s.unix.Serve(lis); err != nil && err != http.ErrServerClosed {
		return errors.Annotate(err, "serving unix socket")
	}
	return nil
}

// Stop gracefully stops the listeners
func (s *Server) Stop(ctx context.Context) {
	for _, srv := range []*http.Server{s.http, s.unix} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("API shutdown")
		}
	}
}

func (s *Server) listClusters(w http.ResponseWriter, _ *http.Request) {
	clusters, err := s.manager.ListClusters()
	if err != nil {
		s.replyError(w, err)
		return
	}
	if clusters == nil {
		clusters = []*cluster.Resource{}
	}
	s.reply(w, http.StatusOK, clusters)
}

func (s *Server) createCluster(w http.ResponseWriter, r *http.Request) {
	var req CreateClusterRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserConfig == nil {
		s.replyError(w, errors.NotValidf("cluster without user configuration"))
		return
	}
	res, err := s.manager.CreateCluster(req.ID, req.UserConfig, req.AdminConfig)
	if err != nil {
		s.replyError(w, err)
		return
	}
	s.reply(w, http.StatusCreated, res)
}

func (s *Server) getCluster(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.GetCluster(mux.Vars(r)["id"])
	s.replyResource(w, res, err)
}

func (s *Server) deleteCluster(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.DeleteCluster(id); err != nil {
		s.replyError(w, err)
		return
	}
	if s.tracker != nil {
		s.tracker.Forget(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setTargetUser(w http.ResponseWriter, r *http.Request) {
	var user types.UserConfig
	if !s.decode(w, r, &user) {
		return
	}
	res, err := s.manager.SetTargetUserConfig(mux.Vars(r)["id"], &user)
	s.replyResource(w, res, err)
}

func (s *Server) setTargetAdmin(w http.ResponseWriter, r *http.Request) {
	var admin types.AdminConfig
	if !s.decode(w, r, &admin) {
		return
	}
	res, err := s.manager.SetTargetAdminConfig(mux.Vars(r)["id"], &admin)
	s.replyResource(w, res, err)
}

func (s *Server) updateNodes(w http.ResponseWriter, r *http.Request) {
	var updates []types.NodeStatus
	if !s.decode(w, r, &updates) {
		return
	}
	res, err := s.manager.UpdateNodesStatus(mux.Vars(r)["id"], updates)
	s.replyResource(w, res, err)
}

func (s *Server) reportObserved(w http.ResponseWriter, r *http.Request) {
	var observed types.ExternalState
	if !s.decode(w, r, &observed) {
		return
	}
	res, err := s.manager.ReportObservedVersion(mux.Vars(r)["id"], &observed)
	s.replyResource(w, res, err)
}

func (s *Server) completeUpgrade(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.CompleteUpgrade(mux.Vars(r)["id"])
	s.replyResource(w, res, err)
}

func (s *Server) rollbackUpgrade(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.manager.RollbackUpgrade(mux.Vars(r)["id"], req.Reason)
	s.replyResource(w, res, err)
}

func (s *Server) recordPoll(w http.ResponseWriter, r *http.Request) {
	var req PollRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.manager.RecordPoll(mux.Vars(r)["id"], req.Progressed)
	s.replyResource(w, res, err)
}

func (s *Server) reportDeployment(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		s.replyError(w, errors.NotSupportedf("deployment reports"))
		return
	}
	var report deploy.Report
	if !s.decode(w, r, &report) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.manager.GetCluster(id); err != nil {
		s.replyError(w, err)
		return
	}
	if err := s.tracker.Report(id, report); err != nil {
		s.replyError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) reportRunning(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		s.replyError(w, errors.NotSupportedf("deployment reports"))
		return
	}
	var observed types.ExternalState
	if !s.decode(w, r, &observed) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.manager.GetCluster(id); err != nil {
		s.replyError(w, err)
		return
	}
	s.tracker.ReportRunning(id, &observed)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) listManifests(w http.ResponseWriter, r *http.Request) {
	manifests, err := s.manager.ListManifests(mux.Vars(r)["id"])
	if err != nil {
		s.replyError(w, err)
		return
	}
	if manifests == nil {
		manifests = []*types.ClusterManifest{}
	}
	s.reply(w, http.StatusOK, manifests)
}

func (s *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	m, err := s.manager.GetManifest(vars["id"], vars["version"])
	if err != nil {
		s.replyError(w, err)
		return
	}
	s.reply(w, http.StatusOK, m)
}

func (s *Server) generateToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TTL <= 0 {
		req.TTL = 24 * time.Hour
	}
	jt, err := s.manager.GenerateJoinToken(req.TTL)
	if err != nil {
		s.replyError(w, err)
		return
	}
	s.reply(w, http.StatusCreated, jt)
}

func (s *Server) join(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.manager.ValidateJoinToken(req.Token); err != nil {
		s.replyError(w, err)
		return
	}
	if err := s.manager.AddVoter(req.NodeID, req.Address); err != nil {
		s.replyError(w, err)
		return
	}
	s.logger.Info().Str("node_id", req.NodeID).Str("address", req.Address).Msg("Manager joined control plane")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.replyError(w, errors.NewNotValid(err, "decoding request body"))
		return false
	}
	return true
}

func (s *Server) replyResource(w http.ResponseWriter, res *cluster.Resource, err error) {
	if err != nil {
		s.replyError(w, err)
		return
	}
	s.reply(w, http.StatusOK, res)
}

func (s *Server) reply(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug().Err(err).Msg("Writing response")
	}
}

func (s *Server) replyError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("code", code).Msg("Request failed")
	}
	s.reply(w, code, ErrorResponse{Error: err.Error(), Code: fault.Code(err)})
}

// StatusCode maps an error to the HTTP status answered for it
func StatusCode(err error) int {
	switch {
	case fault.Code(err) != "":
		return http.StatusUnprocessableEntity
	case fault.IsInvariantViolation(err):
		return http.StatusInternalServerError
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.AlreadyExists), errors.Is(err, storage.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, errors.NotValid):
		return http.StatusBadRequest
	case errors.Is(err, errors.Unauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errors.Forbidden):
		return http.StatusForbidden
	case errors.Is(err, errors.NotSupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
