package nomenclador

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lrlichardi/laboratory/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/nomenclador", h.List)
	api.GET("/nomenclador/:code", h.Get)
	api.POST("/nomenclador/estimate", h.Estimate)
	api.GET("/price-factor", h.GetPriceFactor)
	api.PUT("/price-factor", h.SetPriceFactor)
}

func (h *Handler) List(c echo.Context) error {
	entries, err := h.svc.Search(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return httpError(err)
	}
	p := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Window(entries, p), len(entries), p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	e, err := h.svc.Get(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Estimate(c echo.Context) error {
	var req EstimateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	est, err := h.svc.Estimate(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, est)
}

type factorBody struct {
	Factor float64 `json:"factor"`
}

func (h *Handler) GetPriceFactor(c echo.Context) error {
	f, err := h.svc.PriceFactor(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"factor": f})
}

func (h *Handler) SetPriceFactor(c echo.Context) error {
	var body factorBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	f, err := h.svc.SetPriceFactor(c.Request().Context(), body.Factor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"factor": f})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownCode):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidFactor):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}
