package results

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lrlichardi/laboratory/internal/platform/reporting"
)

type Handler struct {
	svc      *Service
	renderer *reporting.Renderer
}

func NewHandler(svc *Service, renderer *reporting.Renderer) *Handler {
	if renderer == nil {
		renderer = reporting.NewRenderer(reporting.Letterhead{})
	}
	return &Handler{svc: svc, renderer: renderer}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/orders/:id", h.GetOrder)
	api.POST("/orders/:id/refresh", h.RefreshOrder)
	api.PUT("/orders/:id/drafts/:analyteId", h.StageDraft)
	api.DELETE("/orders/:id/drafts", h.DiscardDrafts)
	api.POST("/orders/:id/commit", h.Commit)
	api.DELETE("/orders/:id/lines/:lineId", h.DeleteLine)
	api.DELETE("/orders/:id/session", h.CloseSession)
	api.PUT("/orders/:id/status", h.UpdateStatus)
	api.GET("/orders/:id/report", h.GetReport)
	api.POST("/reference-ranges/resolve", h.ResolveReference)
}

func (h *Handler) GetOrder(c echo.Context) error {
	view, err := h.svc.OpenOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) RefreshOrder(c echo.Context) error {
	view, err := h.svc.Refresh(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type stageRequest struct {
	Value Value `json:"value"`
}

func (h *Handler) StageDraft(c echo.Context) error {
	var req stageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	raw := ""
	if !req.Value.IsNull() {
		raw = req.Value.String()
	}
	view, err := h.svc.Stage(c.Request().Context(), c.Param("id"), c.Param("analyteId"), raw)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) DiscardDrafts(c echo.Context) error {
	view, err := h.svc.Discard(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type commitResponse struct {
	Result  CommitResult `json:"result"`
	Session SessionView  `json:"session"`
}

func (h *Handler) Commit(c echo.Context) error {
	res, view, err := h.svc.Commit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, commitResponse{Result: res, Session: view})
}

func (h *Handler) DeleteLine(c echo.Context) error {
	view, err := h.svc.DeleteLine(c.Request().Context(), c.Param("id"), c.Param("lineId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) CloseSession(c echo.Context) error {
	if _, err := h.svc.CloseSession(c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type statusRequest struct {
	Status OrderStatus `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Status = OrderStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	if !req.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be one of PENDING, COMPLETED, CANCELED")
	}
	view, err := h.svc.UpdateStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) GetReport(c echo.Context) error {
	report, err := h.svc.Report(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	switch strings.ToLower(c.QueryParam("format")) {
	case "", "json":
		return c.JSON(http.StatusOK, report)
	case "md", "markdown":
		return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(report.Markdown()))
	case "html":
		page, err := h.renderer.RenderHTML(ReportTitle+" "+report.OrderNumber, report.Markdown())
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.HTMLBlob(http.StatusOK, page)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "format must be json, md or html")
	}
}

func (h *Handler) ResolveReference(c echo.Context) error {
	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, h.svc.ResolveReference(req))
}

// httpError maps domain errors to HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSaveInProgress), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnknownAnalyte), errors.Is(err, ErrInvalidValue):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrBackend):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
