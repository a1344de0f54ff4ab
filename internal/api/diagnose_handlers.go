package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"carcare/internal/idempotency"
	"carcare/internal/ingest"
	"carcare/internal/models"
	"carcare/internal/service/ai"
	"carcare/internal/service/diagnose"
	"carcare/internal/spectrogram"

	"github.com/gin-gonic/gin"
)

// ReplayHeader marks a response served from the idempotency store.
const ReplayHeader = "Idempotent-Replayed"

// multipart framing allowance on top of the file limit
const formOverhead = 1 << 20

// nginx's code for a client that hung up; only access logs see it.
const statusClientClosedRequest = 499

type dashboardJSON struct {
	DashboardImage string `json:"dashboardImage"`
	MIMEType       string `json:"mimeType"`
}

func (h *Handler) diagnoseEngineSound(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	h.limitBody(c)
	h.idempotent(c, models.KindEngineSound, userID, func(ctx context.Context) (int, any) {
		fh, err := c.FormFile("engineSound")
		if err != nil {
			return formFileError(err, "no audio file uploaded")
		}
		file, err := fh.Open()
		if err != nil {
			return http.StatusBadRequest, gin.H{"success": false, "error": "uploaded file is unreadable"}
		}
		defer file.Close()

		res, err := h.pipeline.EngineSound(ctx, diagnose.AudioInput{
			UserID:      userID,
			Body:        file,
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
		})
		return h.diagnosisResponse(res, err)
	})
}

func (h *Handler) diagnoseDashboard(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	h.limitBody(c)
	h.idempotent(c, models.KindDashboard, userID, func(ctx context.Context) (int, any) {
		in := diagnose.ImageInput{UserID: userID}
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			fh, err := c.FormFile("dashboardImage")
			if errors.Is(err, http.ErrMissingFile) {
				fh, err = c.FormFile("image")
			}
			if err != nil {
				return formFileError(err, "no dashboard image uploaded")
			}
			file, err := fh.Open()
			if err != nil {
				return http.StatusBadRequest, gin.H{"success": false, "error": "uploaded file is unreadable"}
			}
			defer file.Close()
			in.Body = file
			in.ContentType = fh.Header.Get("Content-Type")
		} else {
			var req dashboardJSON
			if err := c.ShouldBindJSON(&req); err != nil {
				if isTooLarge(err) {
					return http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "image is too large"}
				}
				return http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"}
			}
			in.Base64 = req.DashboardImage
			in.ContentType = req.MIMEType
		}

		res, err := h.pipeline.Dashboard(ctx, in)
		return h.diagnosisResponse(res, err)
	})
}

// limitBody caps the request body. JSON bodies carry the image as base64,
// which is a third larger than the file itself.
func (h *Handler) limitBody(c *gin.Context) {
	if h.maxUpload <= 0 {
		return
	}
	limit := h.maxUpload
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		limit = int64(base64.StdEncoding.EncodedLen(int(h.maxUpload)))
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+formOverhead)
}

func formFileError(err error, missing string) (int, any) {
	switch {
	case isTooLarge(err):
		return http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "upload is too large"}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return http.StatusBadRequest, gin.H{"success": false, "error": missing}
	default:
		return http.StatusBadRequest, gin.H{"success": false, "error": "invalid multipart form"}
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge) ||
		strings.Contains(err.Error(), "request body too large")
}

// diagnosisResponse maps a pipeline outcome onto a status and JSON body.
func (h *Handler) diagnosisResponse(res *diagnose.Result, err error) (int, any) {
	if err == nil {
		body := gin.H{
			"success":       true,
			"diagnosis":     res.Diagnosis,
			"tutorialVideo": res.TutorialVideo,
			"saved":         res.Saved,
		}
		if res.Saved {
			body["recordId"] = res.Record.ID
		} else {
			body["warning"] = "diagnosis could not be saved to your history"
		}
		return http.StatusOK, body
	}

	var se *diagnose.StageError
	if !errors.As(err, &se) {
		h.logger.Errorw("unexpected pipeline error", "error", err)
		return http.StatusInternalServerError, gin.H{"success": false, "error": "diagnosis failed"}
	}

	switch se.Kind {
	case diagnose.KindInput:
		var inputErr *ingest.InputError
		if errors.As(err, &inputErr) {
			status := http.StatusBadRequest
			if inputErr.TooLarge {
				status = http.StatusRequestEntityTooLarge
			}
			return status, gin.H{"success": false, "error": inputErr.Reason}
		}
		h.logger.Errorw("storing upload failed", "error", err)
		return http.StatusInternalServerError, gin.H{"success": false, "error": "failed to store upload"}

	case diagnose.KindTranscoding:
		details := err.Error()
		var tErr *spectrogram.TranscodingError
		if errors.As(err, &tErr) && tErr.Details != "" {
			details = tErr.Details
		}
		return http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to generate spectrogram",
			"details": details,
		}

	case diagnose.KindCanceled:
		return statusClientClosedRequest, gin.H{"success": false, "error": "request canceled"}

	case diagnose.KindBusy:
		return http.StatusTooManyRequests, gin.H{"success": false, "error": "server is busy, please retry"}

	case diagnose.KindAIContent:
		var cErr *ai.ContentError
		if !errors.As(err, &cErr) {
			break
		}
		if cErr.Rejected {
			return http.StatusUnprocessableEntity, gin.H{
				"success":     false,
				"error":       cErr.Reason,
				"rawResponse": cErr.Raw,
			}
		}
		return http.StatusInternalServerError, gin.H{
			"success":     false,
			"error":       "unparseable AI response",
			"details":     cErr.Reason,
			"rawResponse": cErr.Raw,
		}

	case diagnose.KindAIService:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, gin.H{"success": false, "error": "AI service timed out"}
		}
		return http.StatusServiceUnavailable, gin.H{"success": false, "error": "AI service unavailable"}
	}
	return http.StatusInternalServerError, gin.H{"success": false, "error": "diagnosis failed"}
}

// idempotent runs handle once per (user, kind, Idempotency-Key). Successful
// responses are stored and replayed for repeats; anything else releases the
// key so the client may retry. Requests without a key always run.
func (h *Handler) idempotent(c *gin.Context, kind models.Kind, userID string, handle func(ctx context.Context) (int, any)) {
	ctx := c.Request.Context()
	key := strings.TrimSpace(c.GetHeader(idempotency.HeaderName))
	if key == "" || h.idem == nil {
		status, body := handle(ctx)
		c.JSON(status, body)
		return
	}
	if len(key) > 255 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idempotency key too long"})
		return
	}

	scoped := userID + ":" + string(kind) + ":" + key
	entry, err := h.idem.Reserve(ctx, scoped)
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		// store trouble must not block diagnoses
		h.logger.Warnw("idempotency store unavailable", "error", err)
		status, body := handle(ctx)
		c.JSON(status, body)
		return
	case entry != nil:
		c.Header(ReplayHeader, "true")
		c.Data(entry.Status, "application/json; charset=utf-8", entry.Body)
		return
	}

	storeCtx := context.WithoutCancel(ctx)
	completed := false
	// also runs when handle panics
	defer func() {
		if completed {
			return
		}
		if err := h.idem.Release(storeCtx, scoped); err != nil {
			h.logger.Warnw("idempotency release failed", "error", err)
		}
	}()

	status, body := handle(ctx)
	payload, err := json.Marshal(body)
	if err != nil {
		h.logger.Errorw("encode response failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode response"})
		return
	}
	if replayable(status, body) {
		if err := h.idem.Complete(storeCtx, scoped, idempotency.Entry{Status: status, Body: payload}); err != nil {
			h.logger.Warnw("idempotency complete failed", "error", err)
		} else {
			completed = true
		}
	}
	c.Data(status, "application/json; charset=utf-8", payload)
}

// replayable reports whether a response may be served again for the same key.
// A diagnosis that missed the history is not, so a retry can save it.
func replayable(status int, body any) bool {
	if status < 200 || status >= 300 {
		return false
	}
	if m, ok := body.(gin.H); ok {
		if saved, ok := m["saved"].(bool); ok && !saved {
			return false
		}
	}
	return true
}
