package api

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prpatrol/prpatrol/internal/guard"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/internal/store"
	"github.com/prpatrol/prpatrol/pkg/consts"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

func (s *Server) handleLogin(c *gin.Context) {
	if !s.dashboardAuthEnabled() {
		abortError(c, errors.New(errors.ErrCodeUnauthorized, "dashboard auth is not configured"))
		return
	}

	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.ErrCodeValidation, "username and password required"))
		return
	}

	token, expiresAt, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	counts := make(map[string]int)
	for status, n := range s.states.StatusCounts() {
		counts[string(status)] = n
	}

	c.JSON(http.StatusOK, gin.H{
		"version":        consts.Version,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"forge":          s.provider.Name(),
		"tracked_repos":  len(s.cfg.TrackedRepos()),
		"status_counts":  counts,
		"inflight":       s.coord.Inflight(),
		"p95_seconds":    s.coord.P95Seconds(),
		"guard":          s.guard.Status(),
	})
}

func (s *Server) handleListPRs(c *gin.Context) {
	all := s.states.GetAll()
	prs := make([]*model.PRState, 0, len(all))
	statusFilter := c.Query("status")
	for _, st := range all {
		if statusFilter != "" && string(st.Status) != statusFilter {
			continue
		}
		prs = append(prs, st)
	}
	sort.Slice(prs, func(i, j int) bool {
		return prs[i].UpdatedAt.After(prs[j].UpdatedAt)
	})
	c.JSON(http.StatusOK, gin.H{"prs": prs, "total": len(prs)})
}

func (s *Server) handleGetPR(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		abortError(c, errors.New(errors.ErrCodeValidation, "invalid PR number"))
		return
	}
	key := model.PRKey(c.Param("owner"), c.Param("repo"), number)
	st, ok := s.states.Get(key)
	if !ok {
		abortError(c, errors.New(errors.ErrCodeStateNotFound, fmt.Sprintf("no state for %s", key)))
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleListReviews(c *gin.Context) {
	if s.archive == nil {
		abortError(c, errors.New(errors.ErrCodeDBQuery, "archive is not configured"))
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	rows, total, err := s.archive.Archive().List(store.ListOptions{
		Owner:   c.Query("owner"),
		Repo:    c.Query("repo"),
		Verdict: c.Query("verdict"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reviews":  rows,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (s *Server) handleExportReview(c *gin.Context) {
	if s.archive == nil || s.exporter == nil {
		abortError(c, errors.New(errors.ErrCodeDBQuery, "export is not configured"))
		return
	}

	row, err := s.archive.Archive().GetByID(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}

	data, contentType, err := s.exporter.Export(c.Request.Context(), row)
	if err != nil {
		abortError(c, err)
		return
	}

	ext := "pdf"
	if contentType != "application/pdf" {
		ext = "html"
	}
	filename := fmt.Sprintf("review-%s-%s-%d-%s.%s", row.Owner, row.Repo, row.Number, row.ID, ext)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) handleUsage(c *gin.Context) {
	if s.archive == nil {
		abortError(c, errors.New(errors.ErrCodeDBQuery, "archive is not configured"))
		return
	}
	totals, err := s.archive.Archive().UsageTotals()
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (s *Server) handleListSettings(c *gin.Context) {
	if s.archive == nil {
		abortError(c, errors.New(errors.ErrCodeDBQuery, "settings store is not configured"))
		return
	}
	settings, err := s.archive.Settings().GetAll()
	if err != nil {
		abortError(c, err)
		return
	}
	// Fields the environment supplied are read-only for the dashboard.
	c.JSON(http.StatusOK, gin.H{
		"settings":    settings,
		"locked_keys": s.cfg.LockedKeys(),
	})
}

func (s *Server) handlePutSetting(c *gin.Context) {
	if s.archive == nil {
		abortError(c, errors.New(errors.ErrCodeDBQuery, "settings store is not configured"))
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.ErrCodeValidation, "value required"))
		return
	}
	key := c.Param("key")
	if err := s.archive.Settings().Set(key, req.Value); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}

func (s *Server) handleGuard(c *gin.Context) {
	c.JSON(http.StatusOK, s.guard.Status())
}

func (s *Server) handleGuardResume(c *gin.Context) {
	s.guard.Resume(guard.ResumeByManual)
	c.JSON(http.StatusOK, s.guard.Status())
}

func (s *Server) handleAudit(c *gin.Context) {
	n, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if n <= 0 || n > 1000 {
		n = 100
	}
	c.JSON(http.StatusOK, gin.H{"events": s.audit.Recent(n)})
}
