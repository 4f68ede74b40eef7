package commission

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
	"github.com/vetbridge/vetbridge/internal/platform/auth"
	"github.com/vetbridge/vetbridge/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "clinician", "cashier"))
	read.GET("/commissions", h.ListCommissions)
	read.GET("/commissions/:id", h.GetCommission)

	// Confirming and paying accruals is a back-office action.
	write := api.Group("", auth.RequireRole("admin"))
	write.POST("/commissions/:id/confirm", h.ConfirmCommission)
	write.POST("/commissions/:id/pay", h.PayCommission)
}

func (h *Handler) GetCommission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	line, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, line)
}

func (h *Handler) ListCommissions(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	if providerID := c.QueryParam("provider_id"); providerID != "" {
		pid, err := uuid.Parse(providerID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid provider_id")
		}
		from := time.Time{}
		to := time.Now().UTC().AddDate(0, 0, 1)
		if f := c.QueryParam("from"); f != "" {
			from, err = time.Parse("2006-01-02", f)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid from, want YYYY-MM-DD")
			}
		}
		if t := c.QueryParam("to"); t != "" {
			to, err = time.Parse("2006-01-02", t)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid to, want YYYY-MM-DD")
			}
		}
		lines, total, err := h.svc.ListByProvider(ctx, pid, from, to, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(lines, total, pg.Limit, pg.Offset))
	}

	lines, total, err := h.svc.List(ctx, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(lines, total, pg.Limit, pg.Offset))
}

func (h *Handler) ConfirmCommission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Confirm(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PayCommission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.MarkPaid(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
