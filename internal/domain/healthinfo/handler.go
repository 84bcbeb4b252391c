package healthinfo

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

const codeExpiredArtefact = 4451

// Handler exposes the health-information endpoints.
type Handler struct {
	svc  *Service
	resp apierror.Responder
}

func NewHandler(svc *Service, resp apierror.Responder) *Handler {
	return &Handler{svc: svc, resp: resp}
}

// RegisterRoutes mounts host API routes on api and gateway callback routes
// on gw.
func (h *Handler) RegisterRoutes(api, gw *echo.Group) {
	api.POST("/hiu/health_information_requests", h.RequestHealthInformation)
	api.GET("/hiu/health_information_requests", h.ListHIURequests)
	api.GET("/hiu/health_information_requests/:id", h.GetHIURequest)
	api.GET("/hiu/health_information_requests/:id/data", h.ListHealthData)
	api.GET("/hip/health_information_requests", h.ListHIPRequests)
	api.GET("/hip/health_information_requests/:id/transfers", h.ListTransfers)

	gw.POST("/health-information/hip/request", h.HIPRequest)
	gw.POST("/health-information/hiu/on-request", h.deposit)
	gw.POST("/health-information/transfer", h.Transfer)
}

// HIPRequest accepts a gateway data request and fulfils it asynchronously.
func (h *Handler) HIPRequest(c echo.Context) error {
	var cb HIPRequestCallback
	if err := c.Bind(&cb); err != nil {
		return h.resp.BadRequest(c, "malformed request body")
	}
	if cb.TransactionID == "" || cb.HIRequest.Consent.ID == "" {
		return h.resp.BadRequest(c, "transactionId and hiRequest.consent.id are required")
	}
	h.svc.runner.Go(context.Background(), "process data request", func(ctx context.Context) error {
		return h.svc.ProcessHIPRequest(ctx, &cb)
	})
	return c.NoContent(http.StatusAccepted)
}

// Transfer receives a pushed page of encrypted records.
func (h *Handler) Transfer(c echo.Context) error {
	var push DataPush
	if err := c.Bind(&push); err != nil {
		return h.resp.BadRequest(c, "malformed request body")
	}
	if push.TransactionID == "" {
		return h.resp.BadRequest(c, "transactionId is required")
	}
	h.svc.runner.Go(context.Background(), "receive health data", func(ctx context.Context) error {
		return h.svc.ReceiveData(ctx, &push)
	})
	return c.NoContent(http.StatusAccepted)
}

// deposit hands an awaited callback body to the correlator.
func (h *Handler) deposit(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.resp.BadRequest(c, "unreadable request body")
	}
	var env gateway.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return h.resp.BadRequest(c, "malformed request body")
	}
	if env.Resp == nil || env.Resp.RequestID == "" {
		return h.resp.BadRequest(c, "resp.requestId is required")
	}
	h.svc.DepositCallback(env.Resp.RequestID, body)
	return c.NoContent(http.StatusAccepted)
}

// RequestHealthInformation starts a consumer-side data request.
func (h *Handler) RequestHealthInformation(c echo.Context) error {
	var in HIURequestInput
	if err := c.Bind(&in); err != nil {
		return h.resp.BadRequest(c, "malformed request body")
	}
	if in.ArtefactID == "" {
		return h.resp.BadRequest(c, "artefact_id is required")
	}
	if !in.From.IsZero() && !in.To.IsZero() && !in.From.Before(in.To) {
		return h.resp.BadRequest(c, "from must precede to")
	}
	req, err := h.svc.RequestHealthInformation(c.Request().Context(), in)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, h.resp.Standard(http.StatusNotFound))
		}
		if errors.Is(err, ErrConsentExpired) {
			return c.JSON(http.StatusBadRequest, h.resp.Custom(codeExpiredArtefact, err.Error()))
		}
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) GetHIURequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return h.resp.BadRequest(c, "invalid request id")
	}
	req, err := h.svc.GetHIURequest(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, h.resp.Standard(http.StatusNotFound))
		}
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) ListHIURequests(c echo.Context) error {
	p := pagination.FromContext(c)
	reqs, total, err := h.svc.ListHIURequests(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(reqs, total, p.Limit, p.Offset))
}

func (h *Handler) ListHealthData(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return h.resp.BadRequest(c, "invalid request id")
	}
	data, err := h.svc.ListHealthData(c.Request().Context(), id)
	if err != nil {
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, data)
}

func (h *Handler) ListHIPRequests(c echo.Context) error {
	p := pagination.FromContext(c)
	reqs, total, err := h.svc.ListHIPRequests(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(reqs, total, p.Limit, p.Offset))
}

func (h *Handler) ListTransfers(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return h.resp.BadRequest(c, "invalid request id")
	}
	transfers, err := h.svc.ListTransfers(c.Request().Context(), id)
	if err != nil {
		return h.resp.JSON(c, err)
	}
	return c.JSON(http.StatusOK, transfers)
}
