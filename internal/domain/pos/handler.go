package pos

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
	"github.com/vetbridge/vetbridge/internal/platform/auth"
	"github.com/vetbridge/vetbridge/pkg/pagination"
)

type Handler struct {
	svc    *Service
	loader *DataLoader
}

func NewHandler(svc *Service, loader *DataLoader) *Handler {
	return &Handler{svc: svc, loader: loader}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "cashier", "receptionist"))
	read.GET("/pos/orders", h.ListOrders)
	read.GET("/pos/orders/:id", h.GetOrder)
	read.GET("/pos/data", h.Manifest)
	read.GET("/pos/data/:model", h.LoadModel)

	write := api.Group("", auth.RequireRole("admin", "cashier"))
	write.POST("/pos/orders/checkout", h.Checkout)
	write.POST("/pos/orders/refund", h.Refund)
}

func (h *Handler) Checkout(c echo.Context) error {
	var req CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	order, err := h.svc.Checkout(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, order)
}

func (h *Handler) Refund(c echo.Context) error {
	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	order, err := h.svc.Refund(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, order)
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	order, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, order)
}

func (h *Handler) ListOrders(c echo.Context) error {
	pg := pagination.FromContext(c)
	orders, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(orders, total, pg.Limit, pg.Offset))
}

func (h *Handler) Manifest(c echo.Context) error {
	return c.JSON(http.StatusOK, h.loader.Manifest())
}

func (h *Handler) LoadModel(c echo.Context) error {
	snap, err := h.loader.Load(c.Request().Context(), c.Param("model"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}
