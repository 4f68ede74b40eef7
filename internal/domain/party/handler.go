package party

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
	read := api.Group("", auth.RequireRole("admin", "clinician", "receptionist", "cashier"))
	read.GET("/parties", h.SearchParties)
	read.GET("/parties/:id", h.GetParty)
	read.GET("/parties/:id/pets", h.GetPets)
	read.GET("/parties/:id/duplicates", h.GetDuplicates)
	read.GET("/partner-types", h.ListTypes)

	write := api.Group("", auth.RequireRole("admin", "receptionist"))
	write.POST("/parties", h.CreateParty)
	write.PUT("/parties/:id", h.UpdateParty)
	write.PATCH("/parties/:id/type", h.SetType)
	write.POST("/parties/:id/deactivate", h.DeactivateParty)
	write.DELETE("/parties/:id", h.DeleteParty)
	write.POST("/parties/walkin", h.CreateWalkin)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/partner-types", h.CreateType)
}

func (h *Handler) CreateParty(c echo.Context) error {
	var p Party
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.Create(c.Request().Context(), &p)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetParty(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	name, _ := h.svc.DisplayName(c.Request().Context(), p)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"party":        p,
		"display_name": name,
	})
}

func (h *Handler) SearchParties(c echo.Context) error {
	pg := pagination.FromContext(c)
	query := c.QueryParam("q")

	if typeID := c.QueryParam("type_id"); typeID != "" && query == "" {
		tid, err := uuid.Parse(typeID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid type_id")
		}
		parties, total, err := h.svc.ListByType(c.Request().Context(), tid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(parties, total, pg.Limit, pg.Offset))
	}

	if query == "" {
		parties, total, err := h.svc.ListActive(c.Request().Context(), pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(parties, total, pg.Limit, pg.Offset))
	}

	parties, total, err := h.svc.Search(c.Request().Context(), query, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(parties, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateParty(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p Party
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.Update(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SetType(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		TypeID uuid.UUID `json:"type_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetType(c.Request().Context(), id, req.TypeID); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeactivateParty(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Deactivate(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteParty(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateWalkin(c echo.Context) error {
	p, err := h.svc.FindOrCreateWalkin(c.Request().Context(), time.Now().UTC())
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPets(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pets, err := h.svc.Pets(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pets)
}

func (h *Handler) GetDuplicates(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	if p.Mobile == nil {
		return c.JSON(http.StatusOK, []*Party{})
	}
	matches, err := h.svc.DuplicateContacts(c.Request().Context(), *p.Mobile, p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, matches)
}

func (h *Handler) CreateType(c echo.Context) error {
	var t PartnerType
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateType(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTypes(c echo.Context) error {
	types, err := h.svc.ListTypes(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, types)
}
