package remoteapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const errMissingParams = "Missing required parameters"

type Handler struct {
	slots   SlotFinder
	booker  Booker
	history HistoryReader
	pending PendingReader
}

func NewHandler(slots SlotFinder, booker Booker, history HistoryReader, pending PendingReader) *Handler {
	return &Handler{slots: slots, booker: booker, history: history, pending: pending}
}

// RegisterRoutes mounts the public endpoints. No auth middleware: this group
// sits behind the gateway's own client authentication.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/appointments/available-slots", h.AvailableSlots)
	g.POST("/appointments/book", h.Book)
	g.GET("/pets/:pet_id/history", h.PetHistory)
	g.GET("/pending-items/:owner_id", h.PendingItems)
}

func fail(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, map[string]string{"error": msg})
}

type slotsRequest struct {
	AppointmentTypeID string `json:"appointment_type_id"`
	DateFrom          string `json:"date_from"`
	DateTo            string `json:"date_to"`
	PractitionerID    string `json:"practitioner_id"`
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	var req slotsRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, errMissingParams)
	}
	if req.AppointmentTypeID == "" || req.DateFrom == "" || req.DateTo == "" {
		return fail(c, errMissingParams)
	}
	typeID, err := uuid.Parse(req.AppointmentTypeID)
	if err != nil {
		return fail(c, errMissingParams)
	}
	dateFrom, err1 := time.Parse("2006-01-02", req.DateFrom)
	dateTo, err2 := time.Parse("2006-01-02", req.DateTo)
	if err1 != nil || err2 != nil {
		return fail(c, errMissingParams)
	}
	var practitionerID *uuid.UUID
	if req.PractitionerID != "" {
		id, err := uuid.Parse(req.PractitionerID)
		if err != nil {
			return fail(c, errMissingParams)
		}
		practitionerID = &id
	}

	slots, err := h.slots.AvailableSlots(c.Request().Context(), typeID, dateFrom, dateTo, practitionerID)
	if err != nil {
		log.Warn().Err(err).Msg("remote slot lookup failed")
		return fail(c, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "slots": slots})
}

type bookRequest struct {
	AppointmentTypeID string   `json:"appointment_type_id"`
	Start             string   `json:"start"`
	Stop              string   `json:"stop"`
	PetIDs            []string `json:"pet_ids"`
	PractitionerARID  string   `json:"practitioner_ar_id"`
	LocationARID      string   `json:"location_ar_id"`
	Reason            string   `json:"reason"`
}

func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, errMissingParams)
	}
	if req.AppointmentTypeID == "" || req.Start == "" || len(req.PetIDs) == 0 || req.PractitionerARID == "" {
		return fail(c, errMissingParams)
	}

	typeID, err := uuid.Parse(req.AppointmentTypeID)
	if err != nil {
		return fail(c, errMissingParams)
	}
	practitionerID, err := uuid.Parse(req.PractitionerARID)
	if err != nil {
		return fail(c, errMissingParams)
	}
	start, err := parseTimestamp(req.Start)
	if err != nil {
		return fail(c, errMissingParams)
	}
	stop := start.Add(DefaultSlotMinutes * time.Minute)
	if req.Stop != "" {
		if stop, err = parseTimestamp(req.Stop); err != nil {
			return fail(c, errMissingParams)
		}
	}
	pets := make([]uuid.UUID, 0, len(req.PetIDs))
	for _, raw := range req.PetIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fail(c, errMissingParams)
		}
		pets = append(pets, id)
	}
	var roomID *uuid.UUID
	if req.LocationARID != "" {
		id, err := uuid.Parse(req.LocationARID)
		if err != nil {
			return fail(c, errMissingParams)
		}
		roomID = &id
	}

	booked, err := h.booker.Book(c.Request().Context(), BookParams{
		TypeID:         typeID,
		Start:          start,
		Stop:           stop,
		PetIDs:         pets,
		PractitionerID: practitionerID,
		RoomID:         roomID,
		Reason:         req.Reason,
	})
	if err != nil {
		log.Warn().Err(err).Msg("remote booking failed")
		return fail(c, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":        true,
		"appointment_id": booked.ID,
		"name":           booked.Name,
		"status":         booked.Status,
	})
}

func (h *Handler) PetHistory(c echo.Context) error {
	petID, err := uuid.Parse(c.Param("pet_id"))
	if err != nil {
		return fail(c, errMissingParams)
	}
	pet, visits, err := h.history.PetHistory(c.Request().Context(), petID)
	if err != nil {
		log.Warn().Err(err).Msg("remote pet history failed")
		return fail(c, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"pet":        pet,
		"encounters": visits,
	})
}

func (h *Handler) PendingItems(c echo.Context) error {
	ownerID, err := uuid.Parse(c.Param("owner_id"))
	if err != nil {
		return fail(c, errMissingParams)
	}
	items, total, err := h.pending.OwnerStatement(c.Request().Context(), ownerID)
	if err != nil {
		log.Warn().Err(err).Msg("remote statement failed")
		return fail(c, err.Error())
	}
	if items == nil {
		items = []PendingLine{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":      true,
		"items":        items,
		"total_amount": total,
	})
}

// parseTimestamp accepts RFC3339 and the bare second-resolution form mobile
// clients send.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}
