package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrcode/glucocalc/internal/dose"
	"github.com/mrcode/glucocalc/internal/models"
)

// boardLookback is how far back treatments are loaded for a board
// computation. It comfortably covers the decay cutoff of both
// substances and is exactly the window of the 24h totals.
const boardLookback = 24 * time.Hour

func (s *Server) userFrom(c *gin.Context) string {
	if u := c.Query("userId"); u != "" {
		return u
	}
	return s.defaultUserID
}

// referenceTimeFrom parses an optional ?at= RFC3339 timestamp,
// defaulting to now.
func referenceTimeFrom(c *gin.Context) (time.Time, error) {
	raw := c.Query("at")
	if raw == "" {
		return time.Now(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (s *Server) boardFor(c *gin.Context, userID string, at time.Time) (models.BoardState, []models.Treatment, error) {
	since := at.Add(-boardLookback).UnixMilli()
	treatments, err := s.store.GetTreatments(c.Request.Context(), userID, since)
	if err != nil {
		return models.BoardState{}, nil, err
	}
	boardComputes.Inc()
	return s.aggregator.ComputeBoard(treatments, at), treatments, nil
}

// GET /api/v1/board
func (s *Server) handleBoard(c *gin.Context) {
	at, err := referenceTimeFrom(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'at' timestamp, want RFC3339"})
		return
	}

	state, _, err := s.boardFor(c, s.userFrom(c), at)
	if err != nil {
		s.logger.Error("board computation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute board"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// GET /api/v1/board/active-insulin
func (s *Server) handleActiveInsulin(c *gin.Context) {
	at, err := referenceTimeFrom(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'at' timestamp, want RFC3339"})
		return
	}

	userID := s.userFrom(c)
	state, treatments, err := s.boardFor(c, userID, at)
	if err != nil {
		s.logger.Error("active insulin lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute active insulin"})
		return
	}

	doses := s.aggregator.ActiveInsulin(treatments, at)
	c.JSON(http.StatusOK, gin.H{
		"totalIob":      state.IOB,
		"referenceTime": at,
		"doses":         doses,
	})
}

type doseRequest struct {
	UserID    string  `json:"userId"`
	CurrentBg float64 `json:"currentBg" binding:"required,gt=0"`

	// ISF and TargetBg override the configured defaults when set.
	// An override replaces the default entirely, never merges.
	ISF      float64 `json:"isf" binding:"omitempty,gt=0"`
	TargetBg float64 `json:"targetBg" binding:"omitempty,gt=0"`

	// IncludeCob excludes pending carbs from the estimate when set to
	// false. Defaults to true.
	IncludeCob *bool `json:"includeCob"`
}

// POST /api/v1/dose
func (s *Server) handleDose(c *gin.Context) {
	var req doseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = s.defaultUserID
	}

	now := time.Now()
	state, _, err := s.boardFor(c, userID, now)
	if err != nil {
		s.logger.Error("dose board computation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute board"})
		return
	}

	rec, err := s.recommend(req, state, now)
	if err != nil {
		if errors.Is(err, models.ErrInvalidParameter) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("dose recommendation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute dose"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) recommend(req doseRequest, state models.BoardState, now time.Time) (models.DoseRecommendation, error) {
	isf := s.cfg.Dosing.DefaultISF
	if req.ISF > 0 {
		isf = req.ISF
	}
	target := s.cfg.Dosing.TargetBg
	if req.TargetBg > 0 {
		target = req.TargetBg
	}
	cob := state.COB
	if req.IncludeCob != nil && !*req.IncludeCob {
		cob = 0
	}

	rec, err := dose.Recommend(dose.Request{
		CurrentBg:      req.CurrentBg,
		TargetBg:       target,
		IOB:            state.IOB,
		COB:            cob,
		ISF:            isf,
		CarbBgFactor:   s.cfg.Dosing.CarbBgFactor,
		DoseClampUnits: s.cfg.Dosing.DoseClampUnits,
		CriticalLowBg:  s.cfg.Alerts.CriticalLowBg,
	}, now)
	if err != nil {
		return rec, err
	}

	warnLabel := "none"
	if rec.Warning != nil {
		warnLabel = string(rec.Warning.Kind)
	}
	doseRecommendations.WithLabelValues(warnLabel).Inc()
	return rec, nil
}

type treatmentRequest struct {
	UserID    string  `json:"userId"`
	EventType string  `json:"eventType"`
	Date      int64   `json:"date" binding:"omitempty,gt=0"` // Unix milliseconds, defaults to now
	Insulin   float64 `json:"insulin" binding:"omitempty,gte=0"`
	Carbs     float64 `json:"carbs" binding:"omitempty,gte=0"`
	Protein   float64 `json:"protein" binding:"omitempty,gte=0"`
	Fat       float64 `json:"fat" binding:"omitempty,gte=0"`
	Notes     string  `json:"notes"`
	EnteredBy string  `json:"enteredBy"`
}

// POST /api/v1/treatments
func (s *Server) handleCreateTreatment(c *gin.Context) {
	var req treatmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Insulin <= 0 && req.Carbs <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "treatment needs insulin or carbs"})
		return
	}

	t := models.Treatment{
		UserID:    req.UserID,
		EventType: req.EventType,
		Date:      req.Date,
		Insulin:   req.Insulin,
		Carbs:     req.Carbs,
		Protein:   req.Protein,
		Fat:       req.Fat,
		Notes:     req.Notes,
		EnteredBy: req.EnteredBy,
	}
	if t.UserID == "" {
		t.UserID = s.defaultUserID
	}
	if t.Date == 0 {
		t.Date = time.Now().UnixMilli()
	}
	if t.EventType == "" {
		switch {
		case t.Insulin > 0 && t.Carbs > 0:
			t.EventType = models.TreatmentEventTypes.MealBolus
		case t.Insulin > 0:
			t.EventType = models.TreatmentEventTypes.CorrectionBolus
		default:
			t.EventType = models.TreatmentEventTypes.CarbCorrection
		}
	}

	saved, err := s.store.SaveTreatment(c.Request.Context(), t)
	if err != nil {
		s.logger.Error("saving treatment failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save treatment"})
		return
	}

	// Push the recomputed board to stream clients
	if state, _, berr := s.boardFor(c, saved.UserID, time.Now()); berr == nil {
		s.hub.BroadcastBoard(saved.UserID, state)
	}

	c.JSON(http.StatusCreated, saved)
}

// GET /api/v1/treatments
func (s *Server) handleListTreatments(c *gin.Context) {
	hours := 24
	if raw := c.Query("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'hours' parameter"})
			return
		}
		hours = parsed
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour).UnixMilli()
	treatments, err := s.store.GetTreatments(c.Request.Context(), s.userFrom(c), since)
	if err != nil {
		s.logger.Error("listing treatments failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list treatments"})
		return
	}
	if treatments == nil {
		treatments = []models.Treatment{}
	}
	c.JSON(http.StatusOK, treatments)
}

// GET /api/v1/glucose/current
func (s *Server) handleCurrentGlucose(c *gin.Context) {
	reading, err := s.store.GetLatestGlucose(c.Request.Context(), s.userFrom(c))
	if err != nil {
		s.logger.Error("fetching current glucose failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch glucose"})
		return
	}
	if reading == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no glucose readings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reading": reading,
		"mmol":    reading.ValueMmolL(),
		"arrow":   reading.TrendArrow(),
		"status":  s.glucoseStatus(reading.ValueMgDL()),
	})
}

func (s *Server) glucoseStatus(mgdl float64) string {
	switch {
	case mgdl <= s.cfg.Alerts.CriticalLowBg:
		return "critical_low"
	case mgdl <= s.cfg.Alerts.LowBg:
		return "low"
	case mgdl >= s.cfg.Alerts.CriticalHighBg:
		return "critical_high"
	case mgdl >= s.cfg.Alerts.HighBg:
		return "high"
	default:
		return "in_range"
	}
}

// GET /api/v1/glucose/history
func (s *Server) handleGlucoseHistory(c *gin.Context) {
	count := 24
	if raw := c.Query("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'count' parameter"})
			return
		}
		count = parsed
	}

	readings, err := s.store.GetGlucoseHistory(c.Request.Context(), s.userFrom(c), count)
	if err != nil {
		s.logger.Error("fetching glucose history failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch glucose history"})
		return
	}
	if readings == nil {
		readings = []models.GlucoseReading{}
	}
	c.JSON(http.StatusOK, readings)
}

// GET /api/v1/predictions
func (s *Server) handlePredictions(c *gin.Context) {
	userID := s.userFrom(c)
	history, err := s.store.GetGlucoseHistory(c.Request.Context(), userID, 24)
	if err != nil {
		s.logger.Error("fetching history for prediction failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch glucose history"})
		return
	}
	if len(history) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no glucose readings to predict from"})
		return
	}

	linear, slope := s.predictor.Predict(history)

	var lstm []float64
	if s.oracle != nil {
		lstm, err = s.oracle(c.Request.Context(), history)
		if err != nil {
			s.logger.Warn("prediction oracle failed, falling back to linear", "error", err)
			lstm = nil
		}
	}

	latest := history[len(history)-1]
	result := s.predictor.Result(linear, lstm, slope, latest.ValueMgDL(), latest.Trend, time.Now())
	c.JSON(http.StatusOK, result)
}

type comparisonRequest struct {
	UserID           string   `json:"userId"`
	ActualBg         float64  `json:"actualBg" binding:"required,gt=0"`
	LinearPrediction *float64 `json:"linearPrediction" binding:"required"`
	LSTMPrediction   *float64 `json:"lstmPrediction" binding:"required"`
}

// POST /api/v1/comparisons
func (s *Server) handleRecordComparison(c *gin.Context) {
	var req comparisonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = s.defaultUserID
	}

	s.tracker.RecordComparison(c.Request.Context(), userID, req.ActualBg, *req.LinearPrediction, *req.LSTMPrediction)

	linearErr := math.Abs(req.ActualBg - *req.LinearPrediction)
	lstmErr := math.Abs(req.ActualBg - *req.LSTMPrediction)
	winner := "tie"
	switch {
	case linearErr < lstmErr:
		winner = "linear"
	case lstmErr < linearErr:
		winner = "lstm"
	}
	comparisonsRecorded.WithLabelValues(winner).Inc()

	c.JSON(http.StatusOK, gin.H{
		"winner":  winner,
		"counter": s.tracker.Snapshot(userID).Counter,
	})
}

// GET /api/v1/accuracy
func (s *Server) handleAccuracy(c *gin.Context) {
	c.JSON(http.StatusOK, s.tracker.Snapshot(s.userFrom(c)))
}

// GET /api/v1/summary
func (s *Server) handleSummary(c *gin.Context) {
	userID := s.userFrom(c)
	now := time.Now()

	state, _, err := s.boardFor(c, userID, now)
	if err != nil {
		s.logger.Error("summary board computation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute summary"})
		return
	}

	summary := gin.H{
		"board":    state,
		"accuracy": s.tracker.Snapshot(userID).Counter,
	}

	reading, err := s.store.GetLatestGlucose(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("summary glucose lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute summary"})
		return
	}
	// An explicit ?currentBg= takes precedence over the stored reading,
	// for meters not synced through the feed.
	currentBg := 0.0
	if raw := c.Query("currentBg"); raw != "" {
		parsed, perr := strconv.ParseFloat(raw, 64)
		if perr != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'currentBg' parameter"})
			return
		}
		currentBg = parsed
	}

	if reading != nil {
		summary["glucose"] = gin.H{
			"reading": reading,
			"arrow":   reading.TrendArrow(),
			"status":  s.glucoseStatus(reading.ValueMgDL()),
		}
		if currentBg == 0 {
			currentBg = reading.ValueMgDL()
		}
	}

	if currentBg > 0 {
		rec, rerr := s.recommend(doseRequest{CurrentBg: currentBg}, state, now)
		if rerr != nil {
			s.logger.Error("summary dose recommendation failed", "error", rerr)
		} else {
			summary["dose"] = rec
		}
	}

	c.JSON(http.StatusOK, summary)
}

// GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
