// Package server is the HTTP boundary: generation triggers, episode reads,
// director operations and manual batch triggers.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/core/auditor"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/core/orchestrator"
	"github.com/agenthands/genesis/internal/jobs"
	"github.com/agenthands/genesis/internal/logger"
)

type Generator interface {
	GenerateEpisode(ctx context.Context, heroID string) (orchestrator.Result, error)
}

type EpisodeReader interface {
	GetEpisode(ctx context.Context, episodeID string) (model.Episode, error)
	ListEpisodes(ctx context.Context, heroID string, limit int) ([]model.Episode, error)
}

type Director interface {
	ListProposals(ctx context.Context) ([]model.CanonEvent, error)
	Approve(ctx context.Context, proposalID, directorID string) (model.CanonEvent, error)
	Reject(ctx context.Context, proposalID, directorID, reason string) (model.CanonEvent, error)
}

type DailyJob interface {
	Run(ctx context.Context) (jobs.DailyStats, error)
}

type NightlyJob interface {
	Run(ctx context.Context) (auditor.Stats, error)
}

type Server struct {
	Generator Generator
	Episodes  EpisodeReader
	Director  Director
	Daily     DailyJob
	Nightly   NightlyJob
	log       *logger.Logger
}

func NewServer(gen Generator, episodes EpisodeReader, director Director, daily DailyJob, nightly NightlyJob, log *logger.Logger) *Server {
	return &Server{
		Generator: gen,
		Episodes:  episodes,
		Director:  director,
		Daily:     daily,
		Nightly:   nightly,
		log:       log.With("component", "http"),
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	r.POST("/heroes/:hero_id/episodes", s.GenerateEpisode)
	r.GET("/heroes/:hero_id/episodes", s.ListEpisodes)
	r.GET("/episodes/:episode_id", s.GetEpisode)

	canon := r.Group("/canon/proposals")
	canon.GET("", s.ListProposals)
	canon.POST("/:proposal_id/approve", s.ApproveProposal)
	canon.POST("/:proposal_id/reject", s.RejectProposal)

	r.POST("/jobs/daily", s.RunDaily)
	r.POST("/jobs/nightly", s.RunNightly)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// fail writes the user-facing form of err. Internal detail is logged, never
// returned.
func (s *Server) fail(c *gin.Context, err error, extra gin.H) {
	code := apperr.GetCode(err)
	status := apperr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "code", code, "error", err)
	} else {
		s.log.Info("request rejected", "path", c.FullPath(), "code", code, "error", err)
	}
	body := gin.H{"code": code, "message": apperr.UserMessage(code)}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

func (s *Server) GenerateEpisode(c *gin.Context) {
	res, err := s.Generator.GenerateEpisode(c.Request.Context(), c.Param("hero_id"))
	if err != nil {
		extra := gin.H{"status": orchestrator.Failed}
		if res.Episode.ID != "" {
			extra["episode_id"] = res.Episode.ID
		}
		s.fail(c, err, extra)
		return
	}
	status := http.StatusCreated
	if res.Status == orchestrator.AlreadyGenerated {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (s *Server) ListEpisodes(c *gin.Context) {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.fail(c, apperr.New(apperr.CodeInvalidArgument, "limit %q", v), nil)
			return
		}
		limit = min(n, maxListLimit)
	}
	eps, err := s.Episodes.ListEpisodes(c.Request.Context(), c.Param("hero_id"), limit)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	if eps == nil {
		eps = []model.Episode{}
	}
	c.JSON(http.StatusOK, gin.H{"episodes": eps})
}

func (s *Server) GetEpisode(c *gin.Context) {
	ep, err := s.Episodes.GetEpisode(c.Request.Context(), c.Param("episode_id"))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, ep)
}

func (s *Server) ListProposals(c *gin.Context) {
	proposals, err := s.Director.ListProposals(c.Request.Context())
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	if proposals == nil {
		proposals = []model.CanonEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

type ApproveRequest struct {
	DirectorID string `json:"director_id" binding:"required"`
}

func (s *Server) ApproveProposal(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, apperr.Wrap(apperr.CodeInvalidArgument, err, "approve request"), nil)
		return
	}
	ev, err := s.Director.Approve(c.Request.Context(), c.Param("proposal_id"), req.DirectorID)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, ev)
}

type RejectRequest struct {
	DirectorID string `json:"director_id" binding:"required"`
	Reason     string `json:"reason" binding:"required"`
}

func (s *Server) RejectProposal(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, apperr.Wrap(apperr.CodeInvalidArgument, err, "reject request"), nil)
		return
	}
	ev, err := s.Director.Reject(c.Request.Context(), c.Param("proposal_id"), req.DirectorID, req.Reason)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (s *Server) RunDaily(c *gin.Context) {
	stats, err := s.Daily.Run(c.Request.Context())
	if errors.Is(err, jobs.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) RunNightly(c *gin.Context) {
	stats, err := s.Nightly.Run(c.Request.Context())
	if errors.Is(err, jobs.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, stats)
}
