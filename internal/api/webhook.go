package api

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/telemetry"
)

// handleWebhook is the ingress for forge webhook deliveries. Work is
// dispatched asynchronously; the response only acknowledges receipt:
// 202 for accepted work, 200 for deliberate drops.
func (s *Server) handleWebhook(c *gin.Context) {
	providerName := c.Param("provider")
	if providerName != s.provider.Name() {
		c.JSON(http.StatusOK, gin.H{"status": "dropped", "reason": "provider not configured"})
		return
	}

	event, err := s.provider.ParseWebhook(c.Request, s.cfg.Forge.WebhookSecret)
	if err != nil {
		s.log.Warn("Webhook rejected", zap.Error(err))
		abortError(c, err)
		return
	}
	telemetry.GetMetrics().RecordWebhookEvent(c.Request.Context(), string(event.Class))

	if event.Class == model.EventClassIgnored {
		c.JSON(http.StatusOK, gin.H{"status": "dropped", "reason": "ignored event"})
		return
	}
	if !s.cfg.IsTracked(event.Owner, event.Repo) {
		c.JSON(http.StatusOK, gin.H{"status": "dropped", "reason": "repository not tracked"})
		return
	}

	switch event.Class {
	case model.EventClassReview:
		if event.PR == nil {
			c.JSON(http.StatusOK, gin.H{"status": "dropped", "reason": "malformed payload"})
			return
		}
		s.submitAsync(event.PR)
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})

	case model.EventClassConditional:
		// An edit only matters when the title changed (WIP flip).
		if event.PR == nil || !event.TitleChanged {
			c.JSON(http.StatusOK, gin.H{"status": "dropped", "reason": "no title change"})
			return
		}
		s.submitAsync(event.PR)
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})

	case model.EventClassLifecycle:
		s.handleLifecycleEvent(event)
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})

	case model.EventClassComment:
		if s.handleCommentEvent(event) {
			c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		} else {
			c.JSON(http.StatusOK, gin.H{"status": "dropped", "reason": "no trigger"})
		}

	default:
		c.JSON(http.StatusOK, gin.H{"status": "dropped", "reason": "unknown class"})
	}
}

func (s *Server) submitAsync(pr *model.PullRequest) {
	if !s.coord.Submit(s.baseCtx, pr) {
		s.log.Warn("Submission aborted during shutdown", zap.String("pr", pr.Key()))
	}
}

func (s *Server) handleLifecycleEvent(event *model.WebhookEvent) {
	if event.PR == nil {
		return
	}
	switch {
	case strings.EqualFold(event.Action, "closed"):
		s.coord.HandleLifecycle(event.Owner, event.Repo, event.PR.Number, event.Merged)
	case strings.EqualFold(event.Action, "converted_to_draft"):
		key := model.PRKey(event.Owner, event.Repo, event.PR.Number)
		if _, ok := s.states.Get(key); !ok {
			return
		}
		if _, err := s.states.Update(key, func(st *model.PRState) {
			if st.Status.IsTerminal() {
				return
			}
			st.IsDraft = true
			if s.cfg.Review.SkipDrafts {
				st.Status = model.StatusSkipped
				st.SkipReason = model.SkipReasonDraft
			}
		}); err != nil {
			s.log.Warn("Failed to apply draft conversion",
				zap.String("pr", key),
				zap.Error(err),
			)
		}
	}
}

// handleCommentEvent matches a PR comment against the trigger command.
// Reports whether a review was dispatched.
func (s *Server) handleCommentEvent(event *model.WebhookEvent) bool {
	if event.CommentAuthorBot {
		// Never react to our own (or any bot's) comments.
		return false
	}
	trigger := s.triggerRe()
	if trigger == nil || !trigger.MatchString(event.CommentBody) {
		return false
	}
	if event.PR == nil {
		return false
	}

	overrides := parseOverrides(event.CommentBody)
	number := event.PR.Number

	go func() {
		pr, err := s.provider.GetPRDetails(s.baseCtx, event.Owner, event.Repo, number)
		if err != nil {
			s.log.Warn("Failed to fetch PR for comment trigger",
				zap.String("pr", model.PRKey(event.Owner, event.Repo, number)),
				zap.Error(err),
			)
			return
		}
		pr.ForceReview = true
		pr.Overrides = overrides

		res := s.coord.ProcessPR(s.baseCtx, pr)
		if res.Err == nil && !res.Reviewed {
			s.explainSkip(pr, res.Reason)
		}
	}()
	return true
}

// explainSkip replies to a rejected /review command so the requester
// is not left waiting.
func (s *Server) explainSkip(pr *model.PullRequest, reason string) {
	if reason == "" || s.cfg.Review.DryRun {
		return
	}
	body := fmt.Sprintf("Review not started: %s.", strings.ReplaceAll(reason, "_", " "))
	if _, err := s.provider.PostComment(s.baseCtx, pr.Owner, pr.Repo, pr.Number, body); err != nil {
		s.log.Warn("Failed to post skip explanation",
			zap.String("pr", pr.Key()),
			zap.Error(err),
		)
	}
}

func (s *Server) triggerRe() *regexp.Regexp {
	s.triggerOnce.Do(func() {
		pattern := s.cfg.Review.CommentTrigger
		if pattern == "" {
			pattern = `^/review\b`
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			s.log.Error("Invalid comment trigger pattern",
				zap.String("pattern", pattern),
				zap.Error(err),
			)
			return
		}
		s.trigger = re
	})
	return s.trigger
}

var (
	maxTurnsRe = regexp.MustCompile(`--max-turns=(\d+)`)
	focusRe    = regexp.MustCompile(`--focus=(\S+)`)
)

// parseOverrides extracts per-request parameters from a trigger
// comment body. Returns nil when the command carries none.
func parseOverrides(body string) *model.ReviewOverrides {
	o := &model.ReviewOverrides{}
	found := false

	if m := maxTurnsRe.FindStringSubmatch(body); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			o.MaxTurns = n
			found = true
		}
	}
	if strings.Contains(body, "--skip-description") {
		o.SkipDescription = true
		found = true
	}
	if strings.Contains(body, "--skip-labels") {
		o.SkipLabels = true
		found = true
	}
	if m := focusRe.FindStringSubmatch(body); m != nil {
		for _, p := range strings.Split(m[1], ",") {
			if p = strings.TrimSpace(p); p != "" {
				o.FocusPaths = append(o.FocusPaths, p)
			}
		}
		found = len(o.FocusPaths) > 0 || found
	}

	if !found {
		return nil
	}
	return o
}
