package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/app/orch"
	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

type OfferRequest struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

type Handlers struct {
	Orch        *orch.Orchestrator
	CallTimeout time.Duration
}

func (h *Handlers) callCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.CallTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.CallTimeout)
}

func statusOf(code domain.Code) int {
	switch code {
	case domain.CodeExclusiveBlocked, domain.CodeSenderBusy, domain.CodeTalkBusy:
		return http.StatusConflict
	case domain.CodeTooManyPeers, domain.CodeDeviceError:
		return http.StatusServiceUnavailable
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeInvalidRole, domain.CodeInvalidParameter, domain.CodeUnknownParameter:
		return http.StatusBadRequest
	case domain.CodeAuthRequired, domain.CodeAuthInvalid:
		return http.StatusUnauthorized
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	if code == domain.CodeInternal {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(statusOf(code), gin.H{"error": gin.H{"code": code, "message": domain.PublicMessage(err)}})
}

func sid(c *gin.Context) core.SessionID {
	return core.SessionID(c.GetString("client_token"))
}

func (h *Handlers) Offer(c *gin.Context) {
	var req OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("offer body: %w", domain.ErrInvalidParameter))
		return
	}
	ctx, cancel := h.callCtx(c)
	defer cancel()
	ans, err := h.Orch.Offer(ctx, sid(c), req.SDP, req.Type)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ans)
}

func (h *Handlers) ClosePeer(c *gin.Context) {
	id := c.Param("pc_id")
	ctx, cancel := h.callCtx(c)
	defer cancel()
	if err := h.Orch.ClosePeer(ctx, id, sid(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "pc_id": id})
}

func (h *Handlers) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orch.Settings())
}

func (h *Handlers) PatchSettings(c *gin.Context) {
	patch, err := decodePatch(c.Request.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := h.callCtx(c)
	defer cancel()
	next, err := h.Orch.UpdateSettings(ctx, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, next)
}

var patchKeys = map[string]bool{"resolution": true, "fps": true, "brightness": true, "contrast": true}

// decodePatch keeps unknown keys so they can be rejected by name.
func decodePatch(body io.Reader) (domain.SettingsPatch, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return domain.SettingsPatch{}, fmt.Errorf("settings body: %w", domain.ErrInvalidParameter)
	}
	if len(raw) == 0 {
		return domain.SettingsPatch{}, fmt.Errorf("request body required: %w", domain.ErrInvalidParameter)
	}
	var p domain.SettingsPatch
	known := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		if patchKeys[k] {
			known[k] = v
			continue
		}
		p.Unknown = append(p.Unknown, k)
	}
	b, _ := json.Marshal(known)
	if err := json.Unmarshal(b, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return domain.SettingsPatch{}, fmt.Errorf("%s: %w", typeErr.Field, domain.ErrInvalidParameter)
		}
		return domain.SettingsPatch{}, fmt.Errorf("settings body: %w", domain.ErrInvalidParameter)
	}
	return p, nil
}

func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orch.Status(c.Request.Context()))
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
