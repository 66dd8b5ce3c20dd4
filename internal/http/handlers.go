package http

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/experiment"
	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	"github.com/fyrsmithlabs/outreachd/internal/logging"
	"github.com/fyrsmithlabs/outreachd/internal/sequencer"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
	maxLeadsPerCall = 500
)

var errUnavailable = echo.NewHTTPError(http.StatusNotImplemented, "service not configured")

func (s *Server) handleStatus(c echo.Context) error {
	cs, err := s.deps.Campaigns.List(c.Request().Context())
	if err != nil {
		return err
	}
	resp := StatusResponse{
		Status:    "ok",
		Campaigns: CountCampaigns(cs),
		Policies:  len(s.deps.Policies.List()),
	}
	if s.deps.QTable != nil {
		resp.QCells = len(s.deps.QTable.Cells())
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateCampaign(c echo.Context) error {
	var cfg campaign.Config
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created, err := s.deps.Campaigns.Create(c.Request().Context(), cfg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

// handleListCampaigns lists campaigns, optionally filtered by ?status=.
func (s *Server) handleListCampaigns(c echo.Context) error {
	cs, err := s.deps.Campaigns.List(c.Request().Context())
	if err != nil {
		return err
	}
	if status := c.QueryParam("status"); status != "" {
		filtered := cs[:0]
		for _, cp := range cs {
			if string(cp.Status) == status {
				filtered = append(filtered, cp)
			}
		}
		cs = filtered
	}
	if cs == nil {
		cs = []*campaign.Campaign{}
	}
	return c.JSON(http.StatusOK, cs)
}

func (s *Server) handleGetCampaign(c echo.Context) error {
	cp, err := s.deps.Campaigns.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cp)
}

func (s *Server) handlePauseCampaign(c echo.Context) error {
	var req PauseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Reason == "" {
		req.Reason = "paused by operator"
	}
	ctx := logging.WithCampaignID(c.Request().Context(), c.Param("id"))
	cp, err := s.deps.Campaigns.Pause(ctx, c.Param("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cp)
}

func (s *Server) handleResumeCampaign(c echo.Context) error {
	var req ResumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := logging.WithCampaignID(c.Request().Context(), c.Param("id"))
	cp, err := s.deps.Campaigns.Resume(ctx, c.Param("id"), req.Reviewer)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cp)
}

// handleCampaignMetrics reports counters and the violations the current
// rates would cause. It has no side effects.
func (s *Server) handleCampaignMetrics(c echo.Context) error {
	cp, err := s.deps.Campaigns.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	rates := cp.Stats.Rates()
	var violations []guardrail.Violation
	if cp.Stats.TouchesSent > 0 {
		violations = s.deps.Thresholds.Check(rates.Guardrail())
	}
	return c.JSON(http.StatusOK, MetricsResponse{
		CampaignID: cp.ID,
		Status:     cp.Status,
		Stats:      cp.Stats,
		Rates:      rates,
		Thresholds: s.deps.Thresholds,
		Violations: violations,
	})
}

// handleEvaluateGuardrails runs the enforcing evaluation. A breach pauses
// the campaign and is reported in the body, not as an error status.
func (s *Server) handleEvaluateGuardrails(c echo.Context) error {
	ctx := logging.WithCampaignID(c.Request().Context(), c.Param("id"))
	vs, err := s.deps.Campaigns.EvaluateGuardrails(ctx, c.Param("id"))
	if err != nil && !errors.Is(err, guardrail.ErrBreach) {
		return err
	}
	cp, getErr := s.deps.Campaigns.Get(ctx, c.Param("id"))
	if getErr != nil {
		return getErr
	}
	return c.JSON(http.StatusOK, GuardrailResponse{
		Breached:   len(vs) > 0,
		Violations: vs,
		Campaign:   cp,
	})
}

// handleSubmitLeads qualifies the submitted leads and starts the default
// sequence for each qualified one.
func (s *Server) handleSubmitLeads(c echo.Context) error {
	if s.deps.Qualifier == nil || s.deps.Sequences == nil {
		return errUnavailable
	}
	var req LeadsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Leads) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "leads are required")
	}
	if len(req.Leads) > maxLeadsPerCall {
		return echo.NewHTTPError(http.StatusBadRequest, "too many leads in one request (max "+strconv.Itoa(maxLeadsPerCall)+")")
	}

	ctx := logging.WithCampaignID(c.Request().Context(), c.Param("id"))
	cp, err := s.deps.Campaigns.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if cp.Status != campaign.StatusActive {
		return campaign.ErrCampaignInactive
	}

	res, err := s.deps.Qualifier.Qualify(ctx, cp.Target(), req.Leads)
	if err != nil {
		return err
	}

	resp := LeadsResponse{
		Qualified: len(res.Qualified),
		Dropped:   res.Dropped,
		Started:   []string{},
	}
	for _, lead := range res.Qualified {
		pack := sequencer.DefaultPack(lead, cp.Config.Offer, cp.Config.Language, cp.Policy)
		seq, err := s.deps.Sequences.Start(logging.WithLeadID(ctx, lead.ID), cp, lead, pack)
		if err != nil {
			if resp.Failed == nil {
				resp.Failed = make(map[string]string)
			}
			resp.Failed[lead.ID] = err.Error()
			continue
		}
		resp.Started = append(resp.Started, seq.ID)
	}
	s.logger.Info("leads submitted",
		zap.String("campaign_id", cp.ID),
		zap.Int("qualified", resp.Qualified),
		zap.Int("dropped", len(resp.Dropped)),
		zap.Int("started", len(resp.Started)),
	)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListSequences(c echo.Context) error {
	if s.deps.Sequences == nil {
		return errUnavailable
	}
	seqs, err := s.deps.Sequences.ListByCampaign(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if seqs == nil {
		seqs = []*sequencer.Sequence{}
	}
	return c.JSON(http.StatusOK, seqs)
}

func (s *Server) handleListExperiments(c echo.Context) error {
	if s.deps.Experiments == nil {
		return errUnavailable
	}
	exps, err := s.deps.Experiments.List(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if exps == nil {
		exps = []*experiment.Experiment{}
	}
	return c.JSON(http.StatusOK, exps)
}

func (s *Server) handleRecommendations(c echo.Context) error {
	if s.deps.Experiments == nil {
		return errUnavailable
	}
	ctx := c.Request().Context()
	if _, err := s.deps.Campaigns.Get(ctx, c.Param("id")); err != nil {
		return err
	}
	plans, err := s.deps.Experiments.Recommendations(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plans)
}

func (s *Server) handleListPolicies(c echo.Context) error {
	ps := s.deps.Policies.List()
	sort.Slice(ps, func(i, j int) bool { return ps[i].JurisdictionID < ps[j].JurisdictionID })
	return c.JSON(http.StatusOK, ps)
}

// handleGetPolicy resolves a country or jurisdiction key. Unknown keys
// return the restrictive default with known=false.
func (s *Server) handleGetPolicy(c echo.Context) error {
	p, known := s.deps.Policies.Lookup(c.Param("key"))
	return c.JSON(http.StatusOK, PolicyResponse{Known: known, Policy: p})
}

// handleQueryLog reads the compliance log. Filters: campaign_id, lead_id,
// action, result, since, until (RFC 3339) and limit.
func (s *Server) handleQueryLog(c echo.Context) error {
	f := compliancelog.Filter{
		CampaignID: c.QueryParam("campaign_id"),
		LeadID:     c.QueryParam("lead_id"),
		Action:     c.QueryParam("action"),
		Result:     compliancelog.Result(c.QueryParam("result")),
		Limit:      defaultLogLimit,
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if v := c.QueryParam(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, name+" must be RFC 3339")
			}
			*dst = t
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		f.Limit = min(n, maxLogLimit)
	}

	evs, err := s.deps.Log.Query(c.Request().Context(), f)
	if err != nil {
		return err
	}
	if evs == nil {
		evs = []compliancelog.Event{}
	}
	return c.JSON(http.StatusOK, LogResponse{Events: evs})
}

func (s *Server) handleGetSequence(c echo.Context) error {
	if s.deps.Sequences == nil {
		return errUnavailable
	}
	seq, err := s.deps.Sequences.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, seq)
}

func (s *Server) handleReply(c echo.Context) error {
	if s.deps.Sequences == nil {
		return errUnavailable
	}
	var reply sequencer.Reply
	if err := c.Bind(&reply); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.deps.Sequences.HandleReply(c.Request().Context(), c.Param("id"), reply)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleResumeSequence(c echo.Context) error {
	if s.deps.Sequences == nil {
		return errUnavailable
	}
	var req ResumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	seq, err := s.deps.Sequences.Resume(c.Request().Context(), c.Param("id"), req.Reviewer)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, seq)
}

func (s *Server) handleCreateExperiment(c echo.Context) error {
	if s.deps.Experiments == nil {
		return errUnavailable
	}
	var spec experiment.Spec
	if err := c.Bind(&spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	if _, err := s.deps.Campaigns.Get(ctx, spec.CampaignID); err != nil {
		return err
	}
	exp, err := s.deps.Experiments.Create(ctx, spec)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, exp)
}

func (s *Server) handleGetExperiment(c echo.Context) error {
	if s.deps.Experiments == nil {
		return errUnavailable
	}
	exp, err := s.deps.Experiments.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exp)
}

func (s *Server) handleEvaluateExperiment(c echo.Context) error {
	if s.deps.Experiments == nil {
		return errUnavailable
	}
	res, err := s.deps.Experiments.Evaluate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// handleRecordOutcome scores reported metrics, adds them to the variant's
// samples and feeds the optimizer.
func (s *Server) handleRecordOutcome(c echo.Context) error {
	if s.deps.Experiments == nil {
		return errUnavailable
	}
	var req OutcomeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	exp, err := s.deps.Experiments.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	obs := experiment.Observation{Variant: req.Variant, Metrics: req.Metrics, Next: req.NextState}
	switch {
	case req.SequenceID != "":
		if s.deps.Sequences == nil {
			return errUnavailable
		}
		seq, err := s.deps.Sequences.Get(ctx, req.SequenceID)
		if err != nil {
			return err
		}
		if seq.CampaignID != exp.CampaignID {
			return echo.NewHTTPError(http.StatusBadRequest, "sequence belongs to another campaign")
		}
		assigned := ""
		for _, a := range seq.Assignments {
			if a.ExperimentID == exp.ID {
				assigned = a.Variant
				break
			}
		}
		if assigned == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "sequence was not assigned by this experiment")
		}
		if obs.Variant != "" && obs.Variant != assigned {
			return echo.NewHTTPError(http.StatusBadRequest, "variant does not match the sequence's assignment")
		}
		obs.Variant = assigned
		obs.State = seq.State
	case obs.Variant == "":
		return echo.NewHTTPError(http.StatusBadRequest, "variant or sequence_id is required")
	}
	if req.State != nil {
		obs.State = *req.State
	} else if req.SequenceID == "" {
		cp, err := s.deps.Campaigns.Get(ctx, exp.CampaignID)
		if err != nil {
			return err
		}
		obs.State = sequencer.ContextState(cp, nil, time.Now())
	}

	reward, err := s.deps.Experiments.Observe(ctx, exp.ID, obs)
	if err != nil {
		return err
	}
	resp := OutcomeResponse{
		ExperimentID: exp.ID,
		Variant:      obs.Variant,
		State:        obs.State,
		Reward:       reward,
	}
	if updated, err := s.deps.Experiments.Get(ctx, exp.ID); err == nil {
		resp.Stats = updated.Stats[obs.Variant]
	}
	s.logger.Debug("outcome recorded",
		zap.String("experiment_id", exp.ID),
		zap.String("variant", obs.Variant),
		zap.Float64("reward", reward.Total),
	)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleQTable(c echo.Context) error {
	if s.deps.QTable == nil {
		return errUnavailable
	}
	return c.JSON(http.StatusOK, s.deps.QTable.Cells())
}
