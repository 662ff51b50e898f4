package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"

	"github.com/tesfam/bingo-engine/internal/engine"
)

// Handler serves the read-only HTTP surface of the engine: the
// presentation layer polls room state here and never mutates anything.
type Handler struct {
	tokenAuth *jwtauth.JWTAuth
	registry  *engine.Registry
}

func NewHandler(registry *engine.Registry) *Handler {
	return &Handler{registry: registry}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error,omitempty"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)

	json.NewEncoder(w).Encode(rsp)
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	rsp := Response{
		Message: "game service is running at port " + os.Getenv("GAME_SERVICE_PORT"),
		Code:    200,
		Data:    nil,
	}
	json.NewEncoder(w).Encode(rsp)
}

// ListRooms returns a snapshot of every live room.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{
		Message: "rooms",
		Code:    http.StatusOK,
		Data:    h.registry.Rooms(),
	})
}

// GetRoom returns one room snapshot by id.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	s, err := h.registry.GetRoom(roomID)
	if err != nil {
		if errors.Is(err, engine.ErrRoomNotFound) {
			h.CreateResponse(w, Response{
				Message: "room not found",
				Code:    http.StatusNotFound,
				Error:   err.Error(),
			})
			return
		}
		h.CreateResponse(w, Response{
			Message: "lookup failed",
			Code:    http.StatusInternalServerError,
			Error:   err.Error(),
		})
		return
	}

	h.CreateResponse(w, Response{
		Message: "room",
		Code:    http.StatusOK,
		Data:    s.Snapshot(),
	})
}
