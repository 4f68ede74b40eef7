package scheduling

import (
	"context"
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
	read := api.Group("", auth.RequireRole("admin", "clinician", "receptionist", "cashier"))
	read.GET("/appointments", h.ListAppointments)
	read.GET("/appointments/:id", h.GetAppointment)
	read.GET("/appointments/available-slots", h.GetAvailableSlots)
	read.GET("/resources", h.ListResources)
	read.GET("/rooms", h.ListRooms)
	read.GET("/appointment-types", h.ListTypes)

	write := api.Group("", auth.RequireRole("admin", "clinician", "receptionist"))
	write.POST("/appointments", h.BookAppointment)
	write.POST("/appointments/:id/confirm", h.ConfirmAppointment)
	write.POST("/appointments/:id/check-in", h.CheckInAppointment)
	write.POST("/appointments/:id/start", h.StartAppointment)
	write.POST("/appointments/:id/complete", h.CompleteAppointment)
	write.POST("/appointments/:id/cancel", h.CancelAppointment)
	write.POST("/appointments/:id/no-show", h.MarkNoShow)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/resources", h.CreateResource)
	admin.POST("/rooms", h.CreateRoom)
	admin.POST("/appointment-types", h.CreateType)
	admin.POST("/appointments/:id/billed", h.MarkBilled)
}

func (h *Handler) BookAppointment(c echo.Context) error {
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Book(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	appts, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetAvailableSlots(c echo.Context) error {
	typeID, err := uuid.Parse(c.QueryParam("type_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid type_id")
	}
	from, err := time.Parse("2006-01-02", c.QueryParam("date_from"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date_from, want YYYY-MM-DD")
	}
	to, err := time.Parse("2006-01-02", c.QueryParam("date_to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date_to, want YYYY-MM-DD")
	}
	var practitionerID *uuid.UUID
	if p := c.QueryParam("practitioner_id"); p != "" {
		pid, err := uuid.Parse(p)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid practitioner_id")
		}
		practitionerID = &pid
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), typeID, from, to, practitionerID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, slots)
}

func (h *Handler) ConfirmAppointment(c echo.Context) error {
	return h.action(c, h.svc.Confirm)
}

func (h *Handler) CheckInAppointment(c echo.Context) error {
	return h.action(c, h.svc.CheckIn)
}

func (h *Handler) StartAppointment(c echo.Context) error {
	return h.action(c, h.svc.Start)
}

func (h *Handler) CompleteAppointment(c echo.Context) error {
	return h.action(c, h.svc.Complete)
}

func (h *Handler) MarkBilled(c echo.Context) error {
	return h.action(c, h.svc.MarkBilled)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Reason string `json:"reason"`
		Blame  string `json:"blame"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Cancel(c.Request().Context(), id, req.Reason, req.Blame); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.MarkNoShow(c.Request().Context(), id, req.Reason); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) action(c echo.Context, fn func(ctx context.Context, id uuid.UUID) error) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := fn(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListResources(c echo.Context) error {
	resources, err := h.svc.Resources(c.Request().Context(), c.QueryParam("type"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resources)
}

func (h *Handler) CreateResource(c echo.Context) error {
	var res Resource
	if err := c.Bind(&res); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateResource(c.Request().Context(), &res); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListRooms(c echo.Context) error {
	rooms, err := h.svc.Rooms(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rooms)
}

func (h *Handler) CreateRoom(c echo.Context) error {
	var room TreatmentRoom
	if err := c.Bind(&room); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateRoom(c.Request().Context(), &room); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, room)
}

func (h *Handler) ListTypes(c echo.Context) error {
	types, err := h.svc.Types(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, types)
}

func (h *Handler) CreateType(c echo.Context) error {
	var t AppointmentType
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateType(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}
