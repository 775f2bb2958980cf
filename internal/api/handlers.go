package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/harrier/internal/fleet"
	"grimm.is/harrier/internal/parse"
)

// stageResponse tells the caller whether a change is already active or
// merely staged, and where to apply it.
type stageResponse struct {
	Status    string               `json:"status"`
	Message   string               `json:"message"`
	Version   *fleet.ConfigVersion `json:"version,omitempty"`
	ApplyPath string               `json:"apply_path,omitempty"`
	Warnings  []string             `json:"warnings,omitempty"`
}

func staged(v *fleet.ConfigVersion) stageResponse {
	if v == nil {
		return stageResponse{
			Status:  "active",
			Message: "change is active immediately; no cluster configuration was affected",
		}
	}
	return stageResponse{
		Status:    "staged",
		Message:   fmt.Sprintf("change staged as version %s; it is not active until applied", v.Name),
		Version:   v,
		ApplyPath: fmt.Sprintf("/api/versions/%d/apply", v.ID),
	}
}

// --- Clusters ---

type clusterRequest struct {
	Name        string `json:"name"`
	AgentPool   string `json:"agent_pool"`
	ConnectMode string `json:"connect_mode"`
}

func (s *Server) handleClusterCreate(w http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := fleet.ValidateName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c := &fleet.Cluster{Name: req.Name, AgentPool: req.AgentPool, ConnectMode: req.ConnectMode}
	if err := s.store.CreateCluster(r.Context(), c); err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleClusterList(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.store.ListClusters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, clusters)
}

func (s *Server) handleClusterGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := s.store.GetCluster(r.Context(), id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- Generate / Parse / Import ---

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	text, err := s.gen.Generate(r.Context(), id)
	if err != nil {
		// The error-marked body is the contract; return it as the
		// response text alongside the status.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(errStatus(err))
		_, _ = io.WriteString(w, text)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, text)
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res := parse.Parse(string(body))
	s.metrics.ParseWarnings.Add(float64(len(res.Warnings)))
	s.metrics.ParseErrors.Add(float64(len(res.Errors)))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res := parse.Parse(string(body))
	s.metrics.ParseWarnings.Add(float64(len(res.Warnings)))
	s.metrics.ParseErrors.Add(float64(len(res.Errors)))

	v, err := s.manager.BulkImport(r.Context(), actor(r), id, res)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	resp := staged(v)
	resp.Warnings = res.Warnings
	writeJSON(w, http.StatusCreated, resp)
}

// --- Listeners ---

func (s *Server) handleListenerCreate(w http.ResponseWriter, r *http.Request) {
	var l fleet.Listener
	if err := readJSON(r, &l); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.manager.StageListenerCreate(r.Context(), actor(r), &l)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, staged(v))
}

func (s *Server) handleListenerUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var l fleet.Listener
	if err := readJSON(r, &l); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	l.ID = id
	v, err := s.manager.StageListenerUpdate(r.Context(), actor(r), &l)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, staged(v))
}

func (s *Server) handleListenerDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.manager.StageListenerDelete(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, staged(v))
}

// --- Pools ---

func (s *Server) handlePoolCreate(w http.ResponseWriter, r *http.Request) {
	var p fleet.Pool
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.manager.StagePoolCreate(r.Context(), actor(r), &p)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, staged(v))
}

func (s *Server) handlePoolUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var p fleet.Pool
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p.ID = id
	v, err := s.manager.StagePoolUpdate(r.Context(), actor(r), &p)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, staged(v))
}

func (s *Server) handlePoolDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.manager.StagePoolDelete(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, staged(v))
}

// --- Members ---

func (s *Server) handleMemberCreate(w http.ResponseWriter, r *http.Request) {
	var m fleet.Member
	if err := readJSON(r, &m); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.manager.StageMemberCreate(r.Context(), actor(r), &m)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, staged(v))
}

func (s *Server) handleMemberUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var m fleet.Member
	if err := readJSON(r, &m); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	m.ID = id
	v, err := s.manager.StageMemberUpdate(r.Context(), actor(r), &m)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, staged(v))
}

func (s *Server) handleMemberToggle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.manager.StageMemberToggle(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, staged(v))
}

func (s *Server) handleMemberDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.manager.StageMemberDelete(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, staged(v))
}

// --- Firewall rules ---

// defaultRulePriority is assigned when a request omits the priority.
// Rules sort ascending, so explicit low values jump the queue.
const defaultRulePriority = 100

// ruleRequest carries a WAF rule over the wire. ListenerIDs and
// Priority are pointers so an explicit empty list (always a validation
// error, see the scope guard) and an explicit priority 0 are
// distinguishable from omitted fields.
type ruleRequest struct {
	ClusterID       int64            `json:"cluster_id"`
	Name            string           `json:"name"`
	Kind            fleet.RuleKind   `json:"kind"`
	Action          fleet.RuleAction `json:"action"`
	Priority        *int             `json:"priority"`
	Config          json.RawMessage  `json:"config"`
	LogMessage      string           `json:"log_message"`
	CustomCondition string           `json:"custom_condition"`
	ListenerIDs     *[]int64         `json:"listener_ids"`
	ClusterScope    bool             `json:"cluster_scope"`
}

func (req *ruleRequest) toRule() (*fleet.FirewallRule, error) {
	if req.ListenerIDs != nil && len(*req.ListenerIDs) == 0 {
		return nil, fmt.Errorf("explicit empty listener association: supply listener IDs or set cluster_scope with the field omitted")
	}
	env, err := json.Marshal(struct {
		Kind   fleet.RuleKind  `json:"kind"`
		Config json.RawMessage `json:"config"`
	}{req.Kind, req.Config})
	if err != nil {
		return nil, err
	}
	cfg, err := fleet.UnmarshalRuleConfig(string(env))
	if err != nil {
		return nil, err
	}
	priority := defaultRulePriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	r := &fleet.FirewallRule{
		ClusterID:       req.ClusterID,
		Name:            req.Name,
		Kind:            req.Kind,
		Action:          req.Action,
		Priority:        priority,
		Config:          cfg,
		LogMessage:      req.LogMessage,
		CustomCondition: req.CustomCondition,
		ClusterScope:    req.ClusterScope,
	}
	if req.ListenerIDs != nil {
		r.ListenerIDs = *req.ListenerIDs
	}
	return r, nil
}

func (s *Server) handleRuleCreate(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rule, err := req.toRule()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.manager.StageRuleCreate(r.Context(), actor(r), rule)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, staged(v))
}

func (s *Server) handleRuleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req ruleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rule, err := req.toRule()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rule.ID = id
	v, err := s.manager.StageRuleUpdate(r.Context(), actor(r), rule)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, staged(v))
}

func (s *Server) handleRuleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.manager.StageRuleDelete(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, staged(v))
}

// --- Certificates ---

type certRequest struct {
	ClusterID *int64 `json:"cluster_id"`
	Name      string `json:"name"`
	PEM       string `json:"pem"`
	Chain     string `json:"chain"`
}

func (s *Server) handleCertificateCreate(w http.ResponseWriter, r *http.Request) {
	var req certRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := fleet.ValidateName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c := &fleet.Certificate{ClusterID: req.ClusterID, Name: req.Name, PEM: req.PEM, Chain: req.Chain}
	v, err := s.manager.StageCertificateCreate(r.Context(), actor(r), c)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, staged(v))
}

func (s *Server) handleCertificateDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.manager.StageCertificateDelete(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, staged(v))
}

// handleCertificateExpiring lists certificates whose not_after falls
// within the requested window (default 30 days).
func (s *Server) handleCertificateExpiring(w http.ResponseWriter, r *http.Request) {
	days := 30
	if q := r.URL.Query().Get("days"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("days must be a positive integer"))
			return
		}
		days = n
	}
	certs, err := s.store.ListExpiringCertificates(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, certs)
}

func (s *Server) handleCertificateList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	certs, err := s.store.ListCertificates(r.Context(), id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, certs)
}

// --- Versions ---

func (s *Server) handleVersionList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	versions, err := s.store.ListVersions(r.Context(), id, limit)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleVersionGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.store.GetVersion(r.Context(), id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.manager.Apply(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "applied",
		"message": fmt.Sprintf("version %s is now the active configuration", v.Name),
		"version": v,
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.Reject(r.Context(), actor(r), id); err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "rejected",
		"message": "staged change rolled back and discarded",
	})
}

// handleVersionDiff renders a unified diff between two versions of a
// cluster.
func (s *Server) handleVersionDiff(w http.ResponseWriter, r *http.Request) {
	clusterID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err1 := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("from and to version IDs are required"))
		return
	}

	a, err := s.store.GetVersion(r.Context(), from)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	b, err := s.store.GetVersion(r.Context(), to)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	if a.ClusterID != clusterID || b.ClusterID != clusterID {
		writeError(w, http.StatusBadRequest, fmt.Errorf("versions belong to a different cluster"))
		return
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a.Content),
		B:        difflib.SplitLines(b.Content),
		FromFile: a.Name,
		ToFile:   b.Name,
		Context:  3,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, diff)
}
