package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/service"
	"github.com/cwrk-planet/pad/pkg/errs"
	"github.com/cwrk-planet/pad/pkg/httputil"
)

// maxBodyBytes bounds a room snapshot upload.
const maxBodyBytes = 4 << 20

type Handler struct {
	roomSvc *service.RoomService
	log     *slog.Logger
}

func NewHandler(room *service.RoomService, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{roomSvc: room, log: log.With("component", "http_handler")}
}

type RoomsListResponse struct {
	Items      []domain.RoomSummary `json:"items"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := errs.ToHTTP(err)
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), msg, slog.String("path", r.URL.Path), slog.Any("err", err))
	}
	httputil.Error(r.Context(), w, status, msg, map[string]any{
		"code":   errs.Code(status),
		"reason": err.Error(),
	})
}

func decodeRoom(w http.ResponseWriter, r *http.Request) (domain.Room, error) {
	var room domain.Room
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&room); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Room{}, errors.Join(errs.ErrInvalidInput, errors.New("empty body"))
		}
		return domain.Room{}, errors.Join(errs.ErrInvalidInput, err)
	}
	return room, nil
}

// GET /rooms?limit=&cursor=
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	limit := service.DefaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			h.fail(w, r, "invalid limit", errors.Join(errs.ErrInvalidInput, err))
			return
		}
		limit = n
	}

	rooms, next, err := h.roomSvc.ListRooms(r.Context(), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		h.fail(w, r, "list rooms failed", err)
		return
	}
	if rooms == nil {
		rooms = []domain.RoomSummary{}
	}
	httputil.OK(w, RoomsListResponse{Items: rooms, NextCursor: next})
}

// GET /rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.roomSvc.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get room failed", err)
		return
	}
	httputil.OK(w, room)
}

// POST /rooms
// 201 with the stored room when this request created it, 200 with the
// existing row otherwise.
func (h *Handler) EnsureRoom(w http.ResponseWriter, r *http.Request) {
	in, err := decodeRoom(w, r)
	if err != nil {
		h.fail(w, r, "invalid JSON", err)
		return
	}
	room, created, err := h.roomSvc.EnsureRoom(r.Context(), in)
	if err != nil {
		h.fail(w, r, "ensure room failed", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.Data(w, status, room)
}

// PUT /rooms/{id}
func (h *Handler) SaveRoom(w http.ResponseWriter, r *http.Request) {
	in, err := decodeRoom(w, r)
	if err != nil {
		h.fail(w, r, "invalid JSON", err)
		return
	}
	id := chi.URLParam(r, "id")
	if in.ID == "" {
		in.ID = id
	}
	if in.ID != id {
		h.fail(w, r, "room id mismatch", errors.Join(errs.ErrInvalidInput, errors.New("body id differs from path")))
		return
	}

	room, err := h.roomSvc.SaveRoom(r.Context(), in)
	if err != nil {
		h.fail(w, r, "save room failed", err)
		return
	}
	httputil.OK(w, room)
}

// DELETE /rooms/{id}
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.roomSvc.DeleteRoom(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "delete room failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
