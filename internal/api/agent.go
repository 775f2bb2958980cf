package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"grimm.is/harrier/internal/store"
)

// agentConfigResponse is what agents converge to: the active APPLIED
// version's text and checksum.
type agentConfigResponse struct {
	Cluster   string `json:"cluster"`
	VersionID int64  `json:"version_id"`
	Name      string `json:"name"`
	Checksum  string `json:"checksum"`
	Content   string `json:"content"`
}

// handleAgentConfig serves the active configuration of a cluster by
// name. 204 means the cluster exists but nothing has been applied yet.
func (s *Server) handleAgentConfig(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("cluster")
	if name == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("cluster query parameter is required"))
		return
	}
	cluster, err := s.store.GetClusterByName(r.Context(), name)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	v, err := s.store.ActiveVersion(r.Context(), cluster.ID)
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, agentConfigResponse{
		Cluster:   cluster.Name,
		VersionID: v.ID,
		Name:      v.Name,
		Checksum:  v.Checksum,
		Content:   v.Content,
	})
}

type heartbeatRequest struct {
	Cluster string `json:"cluster"`
}

// handleAgentHeartbeat records agent liveness on the cluster.
func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cluster, err := s.store.GetClusterByName(r.Context(), req.Cluster)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	if err := s.store.Heartbeat(r.Context(), cluster.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.AgentHeartbeats.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SweepLoop marks clusters DOWN when their last heartbeat is older than
// the configured timeout. Runs until ctx is cancelled; the serve
// command owns the goroutine.
func (s *Server) SweepLoop(ctx context.Context) {
	timeout := time.Duration(s.cfg.HeartbeatTimeoutSeconds) * time.Second
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			down, err := s.store.SweepStaleClusters(ctx, timeout)
			if err != nil {
				s.log.Warn("heartbeat sweep failed", "error", err)
				continue
			}
			s.metrics.ClustersDown.Set(float64(down))
			if down > 0 {
				s.log.Info("heartbeat sweep marked clusters down", "count", down)
			}
		}
	}
}
