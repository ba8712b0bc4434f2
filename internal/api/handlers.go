package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/models"
	"swot-insights/internal/parser"
	"swot-insights/internal/survey"
)

const (
	readyTimeout   = 2 * time.Second
	maxResultsWait = 3 * time.Minute
)

// formReply wraps every form response; failed transitions still carry the
// unchanged view so the client can re-render.
type formReply struct {
	View    survey.View              `json:"view"`
	Display *parser.Display          `json:"display,omitempty"`
	Error   *apperrors.StandardError `json:"error,omitempty"`
	Actions []string                 `json:"actions,omitempty"`
}

func newFormReply(view survey.View) formReply {
	reply := formReply{View: view}
	if fr := view.FinalResult; fr != nil && fr.Ready {
		d := parser.Sections(*fr)
		reply.Display = &d
	}
	return reply
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type signOutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type stepRequest struct {
	Data map[string]interface{} `json:"data"`
}

type goToRequest struct {
	Index *int `json:"index" binding:"required"`
}

type toggleRequest struct {
	Action string `json:"action" binding:"required"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) ready(c *gin.Context) {
	failed := map[string]string{}
	for name, check := range s.deps.ReadyChecks {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("Readiness check failed", map[string]interface{}{"failed": failed})
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errors.Respond(c, apperrors.NewValidationError("invalid sign-in body", nil))
		return
	}
	res, err := s.deps.Auth.SignIn(c.Request.Context(), req.Email, req.Password, req.Remember)
	if err != nil {
		s.errors.Respond(c, err)
		return
	}
	if !res.Success {
		c.JSON(http.StatusUnauthorized, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) signOut(c *gin.Context) {
	var req signOutRequest
	_ = c.ShouldBindJSON(&req)

	identity := identityFrom(c)
	if s.deps.Sessions != nil {
		s.deps.Sessions.Drop(identity.UserID)
	}
	if err := s.deps.Auth.SignOut(c.Request.Context(), req.RefreshToken); err != nil {
		s.errors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"identity": identityFrom(c)})
}

// subscriptionStatus answers 200 for rejected subscriptions too; only a
// failed lookup is an error here.
func (s *Server) subscriptionStatus(c *gin.Context) {
	status, err := s.deps.Subscriptions.Check(c.Request.Context(), identityFrom(c).UserID)
	if err != nil {
		stdErr := apperrors.Normalize(err)
		if apperrors.HasCode(err, apperrors.ErrCodeSubscriptionCheckFailed) || apperrors.GetErrorCategory(stdErr.Code) != "SUBSCRIPTION" {
			s.errors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"active": false,
			"reason": stdErr.Code,
			"route":  apperrors.BuildResponse(stdErr).Route,
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) orchestrator(c *gin.Context) *survey.Orchestrator {
	return s.deps.Sessions.Get(c.Request.Context(), identityFrom(c))
}

func (s *Server) replyForm(c *gin.Context, view survey.View, err error) {
	reply := newFormReply(view)
	if err == nil {
		c.JSON(http.StatusOK, reply)
		return
	}
	stdErr := apperrors.Normalize(err)
	status := apperrors.HTTPStatus(stdErr.Code)
	s.logger.Debug("Form transition rejected", map[string]interface{}{
		"errorCode": string(stdErr.Code),
		"index":     view.Index,
		"status":    status,
	})
	reply.Error = stdErr
	reply.Actions = apperrors.BuildResponse(stdErr).Actions
	c.JSON(status, reply)
}

func (s *Server) formView(c *gin.Context) {
	s.replyForm(c, s.orchestrator(c).View(), nil)
}

func (s *Server) formNext(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		s.errors.Respond(c, apperrors.NewValidationError("invalid step body", nil))
		return
	}
	view, err := s.orchestrator(c).Next(c.Request.Context(), req.Data)
	s.replyForm(c, view, err)
}

func (s *Server) formBack(c *gin.Context) {
	view, err := s.orchestrator(c).Back()
	s.replyForm(c, view, err)
}

func (s *Server) formGoTo(c *gin.Context) {
	var req goToRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errors.Respond(c, apperrors.NewValidationError("index is required", nil))
		return
	}
	view, err := s.orchestrator(c).GoTo(*req.Index)
	s.replyForm(c, view, err)
}

func (s *Server) formDraft(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errors.Respond(c, apperrors.NewValidationError("invalid draft body", nil))
		return
	}
	view, err := s.orchestrator(c).UpdateDraft(c.Request.Context(), req.Data)
	s.replyForm(c, view, err)
}

func (s *Server) formRetry(c *gin.Context) {
	view, err := s.orchestrator(c).Retry(c.Request.Context())
	s.replyForm(c, view, err)
}

func (s *Server) formRestart(c *gin.Context) {
	s.replyForm(c, s.orchestrator(c).Restart(c.Request.Context()), nil)
}

// results returns the results screen. With wait=<seconds> it blocks until a
// running generation settles or the wait elapses.
func (s *Server) results(c *gin.Context) {
	orch := s.orchestrator(c)
	wait, _ := strconv.Atoi(c.Query("wait"))
	if wait <= 0 {
		s.replyForm(c, orch.View(), nil)
		return
	}

	d := time.Duration(wait) * time.Second
	if d > maxResultsWait {
		d = maxResultsWait
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), d)
	defer cancel()
	view, _ := orch.WaitGeneration(ctx)
	s.replyForm(c, view, nil)
}

func (s *Server) toggleAction(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errors.Respond(c, apperrors.NewValidationError("action is required", nil))
		return
	}
	orch := s.orchestrator(c)
	view, on, err := orch.ToggleAction(c.Request.Context(), req.Action)
	if err != nil {
		s.replyForm(c, view, err)
		return
	}

	if id := view.ReportID; id != "" && view.FinalResult != nil {
		actions := append([]string{}, view.FinalResult.PrioritizedActions...)
		if _, uerr := s.deps.Reports.Update(c.Request.Context(), id, identityFrom(c).UserID, models.ReportPatch{PrioritizedActions: &actions}); uerr != nil {
			view.Warning = apperrors.Normalize(uerr)
			s.logger.Warn("Stored report was not updated", map[string]interface{}{
				"reportId": id,
				"error":    uerr.Error(),
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"view": view, "prioritized": on})
}

func (s *Server) history(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := s.deps.Reports.ListByUser(c.Request.Context(), identityFrom(c).UserID, limit)
	if err != nil {
		s.errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": list})
}

func (s *Server) historyItem(c *gin.Context) {
	report, err := s.deps.Reports.Get(c.Request.Context(), c.Param("id"), identityFrom(c).UserID)
	if err != nil {
		s.errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) deleteHistoryItem(c *gin.Context) {
	id := c.Param("id")
	ok, err := s.deps.Reports.Delete(c.Request.Context(), id, identityFrom(c).UserID)
	if err != nil {
		s.errors.Respond(c, err)
		return
	}
	if !ok {
		s.errors.Respond(c, apperrors.NewReportNotFoundError(id))
		return
	}
	if s.deps.Search != nil {
		if err := s.deps.Search.Remove(c.Request.Context(), id); err != nil {
			s.logger.Warn("Report left in search index", map[string]interface{}{"reportId": id, "error": err.Error()})
		}
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) searchReports(c *gin.Context) {
	from, _ := strconv.Atoi(c.Query("from"))
	size, _ := strconv.Atoi(c.Query("size"))
	res, err := s.deps.Search.Search(c.Request.Context(), c.Query("q"), from, size)
	if err != nil {
		s.errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
