package api

import (
	"net/http"

	"github.com/cuemby/rollout/pkg/metrics"
)

func (s *Server) registerHealthRoutes() {
	s.router.HandleFunc("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/livez", metrics.LivenessHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// readyHandler refreshes the raft and store components from the manager
// before answering readiness
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	s.checkManager()
	metrics.ReadyHandler()(w, r)
}

func (s *Server) checkManager() {
	if s.manager == nil {
		metrics.UpdateComponent("raft", false, "manager not initialized")
		metrics.UpdateComponent("store", false, "manager not initialized")
		return
	}

	switch {
	case s.manager.IsLeader():
		metrics.UpdateComponent("raft", true, "leader")
	case s.manager.LeaderAddr() != "":
		metrics.UpdateComponent("raft", true, "follower of "+s.manager.LeaderAddr())
	default:
		metrics.UpdateComponent("raft", false, "no leader elected")
	}

	if _, err := s.manager.ListClusters(); err != nil {
		metrics.UpdateComponent("store", false, err.Error())
	} else {
		metrics.UpdateComponent("store", true, "")
	}
}
