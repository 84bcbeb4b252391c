package consent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hrp/abdm-bridge/internal/platform/apierror"
	"github.com/hrp/abdm-bridge/internal/platform/gateway"
	"github.com/hrp/abdm-bridge/pkg/pagination"
)

type Handler struct {
	svc  *Service
	resp apierror.Responder
}

func NewHandler(svc *Service, resp apierror.Responder) *Handler {
	return &Handler{svc: svc, resp: resp}
}

// RegisterRoutes wires the host-facing API and the gateway callback routes.
func (h *Handler) RegisterRoutes(api *echo.Group, gw *echo.Group) {
	api.POST("/hiu/consent_requests", h.CreateConsentRequest)
	api.GET("/hiu/consent_requests", h.ListConsentRequests)
	api.GET("/hiu/consent_requests/:id", h.GetConsentRequest)
	api.GET("/hiu/consent_artefacts", h.ListConsentArtefacts)
	api.GET("/hiu/consent_artefacts/:id", h.GetConsentArtefact)

	gw.POST("/consents/hip/notify", h.HIPNotify)
	gw.POST("/consents/hiu/notify", h.HIUNotify)
	gw.POST("/consent-requests/on-init", h.OnInit)
	gw.POST("/consents/on-fetch", h.OnFetch)
}

// -- host API --

func (h *Handler) CreateConsentRequest(c echo.Context) error {
	var detail Detail
	if err := c.Bind(&detail); err != nil {
		return h.resp.BadRequest(c, err.Error())
	}
	req, err := h.svc.GenerateConsentRequest(c.Request().Context(), detail)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return h.resp.BadRequest(c, verr.Message)
		}
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) GetConsentRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return h.resp.BadRequest(c, "invalid id")
	}
	req, err := h.svc.GetRequest(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, h.resp.Standard(http.StatusNotFound))
		}
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) ListConsentRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRequests(c.Request().Context(), Status(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListConsentArtefacts(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListArtefacts(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetConsentArtefact(c echo.Context) error {
	art, err := h.svc.GetArtefact(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, h.resp.Standard(http.StatusNotFound))
		}
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, art)
}

// -- gateway callbacks --

// HIPNotify acknowledges immediately and processes the notification in the
// background; the gateway expects a 202 within its timeout.
func (h *Handler) HIPNotify(c echo.Context) error {
	var cb HIPNotifyCallback
	if err := c.Bind(&cb); err != nil {
		return h.resp.BadRequest(c, err.Error())
	}
	if cb.Notification.ConsentID == "" {
		return h.resp.BadRequest(c, "notification.consentId is required")
	}
	h.svc.runner.Go(context.Background(), "process hip consent notify", func(ctx context.Context) error {
		return h.svc.ProcessHIPNotify(ctx, &cb)
	})
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) HIUNotify(c echo.Context) error {
	var cb HIUNotifyCallback
	if err := c.Bind(&cb); err != nil {
		return h.resp.BadRequest(c, err.Error())
	}
	if cb.Notification.ConsentRequestID == "" {
		return h.resp.BadRequest(c, "notification.consentRequestId is required")
	}
	h.svc.runner.Go(context.Background(), "process hiu consent notify", func(ctx context.Context) error {
		return h.svc.ProcessHIUNotify(ctx, &cb)
	})
	return c.NoContent(http.StatusAccepted)
}

// OnInit deposits the callback for the flow waiting on its request id.
func (h *Handler) OnInit(c echo.Context) error {
	return h.deposit(c)
}

// OnFetch deposits the callback for the flow waiting on its request id.
func (h *Handler) OnFetch(c echo.Context) error {
	return h.deposit(c)
}

func (h *Handler) deposit(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.resp.BadRequest(c, "failed to read request body")
	}
	var env gateway.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return h.resp.BadRequest(c, err.Error())
	}
	if env.Resp == nil || env.Resp.RequestID == "" {
		return h.resp.BadRequest(c, "resp.requestId is required")
	}
	h.svc.DepositCallback(env.Resp.RequestID, body)
	return c.NoContent(http.StatusAccepted)
}
