package handler

import (
	"net/http"

	"github.com/mcoot/typerace/internal/api/response"
	"github.com/mcoot/typerace/internal/services/catalog"
)

// ShipHandler serves the ship catalog
type ShipHandler struct {
	catalog *catalog.Service
}

// NewShipHandler creates a new ship handler
func NewShipHandler(catalogService *catalog.Service) *ShipHandler {
	return &ShipHandler{catalog: catalogService}
}

// List handles GET /api/v1/ships
func (h *ShipHandler) List(w http.ResponseWriter, r *http.Request) {
	ships, err := h.catalog.ListShips(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.ShipsFromModel(ships))
}
