// internal/server/handlers.go
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"nutrivision/internal/agent"
	"nutrivision/internal/diagnostics"
	"nutrivision/internal/imaging"
	"nutrivision/internal/models"
	"nutrivision/internal/nutrition"
	"nutrivision/internal/session"
	"nutrivision/internal/storage"
	"nutrivision/internal/tracker"
)

// captureTimeout bounds how long a capture waits for the camera to report a frame size.
const captureTimeout = 15 * time.Second

func statusFor(err error) int {
	switch {
	case errors.Is(err, imaging.ErrNotImage), errors.Is(err, imaging.ErrTooLarge), errors.Is(err, imaging.ErrTooManyPixels), errors.Is(err, imaging.ErrDecode),
		errors.Is(err, session.ErrNoImage), errors.Is(err, tracker.ErrEmptyMessage), errors.Is(err, agent.ErrInvalidArgs):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrBusy), errors.Is(err, tracker.ErrBusy), errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, diagnostics.ErrUnknownScenario), errors.Is(err, agent.ErrUnknownTool), errors.Is(err, storage.ErrNotFound),
		errors.Is(err, session.ErrNoResult):
		return http.StatusNotFound
	case errors.Is(err, imaging.ErrCameraUnavailable), errors.Is(err, imaging.ErrNotReady), errors.Is(err, imaging.ErrCameraClosed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// userMessage reduces wrapped image and camera errors to their short form.
func userMessage(err error) string {
	for _, known := range []error{
		imaging.ErrNotImage, imaging.ErrTooManyPixels, imaging.ErrTooLarge, imaging.ErrDecode,
		imaging.ErrCameraUnavailable, imaging.ErrNotReady, imaging.ErrCameraClosed,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("Request %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": userMessage(err)})
}

// failWithToast reports an error that the user should also see as a toast.
func (s *Server) failWithToast(c *gin.Context, err error) {
	s.toaster.Show(userMessage(err))
	s.fail(c, err)
}

func (s *Server) handleGetSession(c *gin.Context) {
	snap := s.deps.Machine.Current()
	c.JSON(http.StatusOK, gin.H{
		"session": snap,
		"stage":   session.StageMessage(snap.Progress),
	})
}

// POST /api/session/image accepts a multipart "image" field or a raw image body.
func (s *Server) handleSelectImage(c *gin.Context) {
	var (
		img []byte
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, ferr := c.FormFile("image")
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing image field"})
			return
		}
		f, ferr := fh.Open()
		if ferr != nil {
			s.fail(c, ferr)
			return
		}
		defer f.Close()
		img, err = imaging.Process(f, fh.Header.Get("Content-Type"))
	} else {
		img, err = imaging.Process(c.Request.Body, c.ContentType())
	}
	if err != nil {
		s.failWithToast(c, err)
		return
	}

	snap, err := s.selectImage(img)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// selectImage replaces whatever the session shows, unless an analysis is running.
func (s *Server) selectImage(img []byte) (session.Snapshot, error) {
	return s.deps.Machine.Replace(img)
}

// POST /api/session/capture?facing=user grabs one frame from the camera.
func (s *Server) handleCapture(c *gin.Context) {
	if s.deps.Camera == nil {
		s.failWithToast(c, imaging.ErrCameraUnavailable)
		return
	}
	if s.deps.Machine.Current().Status == session.StatusAnalyzing {
		s.fail(c, session.ErrBusy)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), captureTimeout)
	defer cancel()
	img, err := s.deps.Camera.Shoot(ctx, imaging.Facing(c.Query("facing")))
	if err != nil {
		s.failWithToast(c, err)
		return
	}

	snap, err := s.selectImage(img)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// POST /api/session/analyze starts an analysis and returns at once; progress and
// the result arrive as session events.
func (s *Server) handleAnalyze(c *gin.Context) {
	token, snap, err := s.deps.Machine.Begin()
	if err != nil {
		s.fail(c, err)
		return
	}

	s.analyses.Add(1)
	go func() {
		defer s.analyses.Done()
		s.runAnalysis(token, snap.Image)
	}()
	c.JSON(http.StatusAccepted, snap)
}

func (s *Server) runAnalysis(token session.Token, img []byte) {
	m := s.deps.Machine
	tr := s.deps.Tracker

	result, err := s.deps.Analyzer.Analyze(s.ctx, img, tr.Settings(), tr.History())
	if err != nil {
		if _, ferr := m.Fail(token, err.Error()); errors.Is(ferr, session.ErrStale) {
			s.logger.Printf("Dropping failed analysis for an older session")
		}
		return
	}

	if _, err := m.CompleteAndWait(s.ctx, token, result); err != nil {
		if errors.Is(err, session.ErrStale) {
			s.logger.Printf("Dropping analysis result for an older session")
		}
		return
	}
	if _, err := tr.RecordAnalysis(s.ctx, img, result); err != nil {
		s.logger.Printf("Failed to save analysis to history: %v", err)
		s.toaster.Show("Analysis complete, but it could not be saved to history.")
	}
}

func (s *Server) handleReset(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Machine.Reset())
}

// POST /api/session/open/:id shows a stored history item as a completed analysis.
func (s *Server) handleOpenHistory(c *gin.Context) {
	item, ok := s.deps.Tracker.FindHistory(c.Param("id"))
	if !ok {
		s.fail(c, storage.ErrNotFound)
		return
	}

	var img []byte
	if !item.IsManual() {
		data, err := imaging.DecodeDataURL(item.Image)
		if err != nil {
			s.logger.Printf("History item %s has an unreadable image: %v", item.ID, err)
		} else {
			img = data
		}
	}
	result := item.Result
	snap, err := s.deps.Machine.Open(img, &result)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleShare(c *gin.Context) {
	snap := s.deps.Machine.Current()
	if snap.Status != session.StatusComplete || snap.Result == nil {
		s.fail(c, session.ErrNoResult)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": nutrition.ShareText(snap.Result)})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Tracker.Settings())
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var req models.UserSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	saved, err := s.deps.Tracker.SaveSettings(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// GET /api/history?limit=n
func (s *Server) handleGetHistory(c *gin.Context) {
	history := s.deps.Tracker.History()
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		if limit < len(history) {
			history = history[:limit]
		}
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) handleClearHistory(c *gin.Context) {
	if err := s.deps.Tracker.ClearHistory(); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleToday(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Tracker.Today())
}

func (s *Server) handleGetChat(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Tracker.Chat())
}

type chatRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSendChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	reply, err := s.deps.Tracker.SendChat(c.Request.Context(), req.Text)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handleClearChat(c *gin.Context) {
	if err := s.deps.Tracker.ClearChat(); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleReminders(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Tracker.Reminders())
}

func (s *Server) handleToast(c *gin.Context) {
	c.JSON(http.StatusOK, s.toaster.Current())
}

func (s *Server) handleDismissToast(c *gin.Context) {
	s.toaster.Dismiss()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDiagnostics(c *gin.Context) {
	if s.deps.Diagnostics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "diagnostics are not enabled"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Diagnostics.Run(c.Request.Context()))
}

func (s *Server) handleSimulate(c *gin.Context) {
	if s.deps.Diagnostics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "diagnostics are not enabled"})
		return
	}
	sim, err := s.deps.Diagnostics.Simulate(c.Request.Context(), diagnostics.Scenario(c.Param("scenario")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sim)
}
