package linking

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
	api.POST("/hip/link_care_context", h.LinkCareContext)
	api.GET("/hip/link_requests", h.ListLinkRequests)
	api.GET("/hip/link_requests/:id", h.GetLinkRequest)
	api.POST("/hip/auth/fetch_modes", h.AuthFetchModes)
	api.POST("/hip/auth/init", h.AuthInit)
	api.POST("/hip/auth/confirm", h.AuthConfirm)

	gw.POST("/care-contexts/discover", h.Discover)
	gw.POST("/links/link/init", h.LinkInit)
	gw.POST("/links/link/confirm", h.LinkConfirm)
	gw.POST("/links/link/on-add-contexts", h.OnAddContexts)
	gw.POST("/users/auth/on-fetch-modes", h.deposit)
	gw.POST("/users/auth/on-init", h.deposit)
	gw.POST("/users/auth/on-confirm", h.deposit)
}

// -- host API --

func (h *Handler) LinkCareContext(c echo.Context) error {
	var in LinkInput
	if err := c.Bind(&in); err != nil {
		return h.resp.BadRequest(c, err.Error())
	}
	lr, err := h.svc.LinkCareContexts(c.Request().Context(), in)
	if err != nil {
		var already *AlreadyLinkedError
		if errors.As(err, &already) {
			return c.JSON(http.StatusBadRequest, h.resp.Custom(codeAlreadyLinked, already.Error()))
		}
		var verr *ValidationError
		if errors.As(err, &verr) {
			return h.resp.BadRequest(c, verr.Message)
		}
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, lr)
}

func (h *Handler) ListLinkRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListLinkRequests(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetLinkRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return h.resp.BadRequest(c, "invalid id")
	}
	lr, contexts, err := h.svc.GetLinkRequest(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, h.resp.Standard(http.StatusNotFound))
		}
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"link_request":  lr,
		"care_contexts": contexts,
	})
}

func (h *Handler) AuthFetchModes(c echo.Context) error {
	var in AuthFetchModesInput
	if err := c.Bind(&in); err != nil {
		return h.resp.BadRequest(c, err.Error())
	}
	modes, err := h.svc.FetchAuthModes(c.Request().Context(), in)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return h.resp.BadRequest(c, verr.Message)
		}
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"modes": modes})
}

func (h *Handler) AuthInit(c echo.Context) error {
	var in AuthInitInput
	if err := c.Bind(&in); err != nil {
		return h.resp.BadRequest(c, err.Error())
	}
	result, err := h.svc.InitAuth(c.Request().Context(), in)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return h.resp.BadRequest(c, verr.Message)
		}
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) AuthConfirm(c echo.Context) error {
	var in AuthConfirmInput
	if err := c.Bind(&in); err != nil {
		return h.resp.BadRequest(c, err.Error())
	}
	result, err := h.svc.ConfirmAuth(c.Request().Context(), in)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return h.resp.BadRequest(c, verr.Message)
		}
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// -- gateway callbacks --

// Discover acknowledges immediately and resolves the patient in the
// background; the result reaches the gateway through on-discover.
func (h *Handler) Discover(c echo.Context) error {
	var cb DiscoverCallback
	if err := c.Bind(&cb); err != nil {
		return h.resp.BadRequest(c, err.Error())
	}
	if cb.TransactionID == "" {
		return h.resp.BadRequest(c, "transactionId is required")
	}
	h.svc.runner.Go(context.Background(), "process discover", func(ctx context.Context) error {
		return h.svc.ProcessDiscover(ctx, &cb)
	})
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) LinkInit(c echo.Context) error {
	var cb LinkInitCallback
	if err := c.Bind(&cb); err != nil {
		return h.resp.BadRequest(c, err.Error())
	}
	if cb.TransactionID == "" {
		return h.resp.BadRequest(c, "transactionId is required")
	}
	h.svc.runner.Go(context.Background(), "process link init", func(ctx context.Context) error {
		return h.svc.ProcessLinkInit(ctx, &cb)
	})
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) LinkConfirm(c echo.Context) error {
	var cb LinkConfirmCallback
	if err := c.Bind(&cb); err != nil {
		return h.resp.BadRequest(c, err.Error())
	}
	if cb.Confirmation.LinkRefNumber == "" {
		return h.resp.BadRequest(c, "confirmation.linkRefNumber is required")
	}
	h.svc.runner.Go(context.Background(), "process link confirm", func(ctx context.Context) error {
		return h.svc.ProcessLinkConfirm(ctx, &cb)
	})
	return c.NoContent(http.StatusAccepted)
}

// OnAddContexts records the gateway's verdict on the link request and then
// deposits the callback for any flow still waiting on its request id.
func (h *Handler) OnAddContexts(c echo.Context) error {
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
	if err := h.svc.ProcessAddContextsAck(c.Request().Context(), body); err != nil {
		return h.resp.JSON(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

// deposit hands an awaited callback body to the correlator.
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
