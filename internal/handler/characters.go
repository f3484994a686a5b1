package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"swapi-archive/internal/logger"
	"swapi-archive/internal/model"
	"swapi-archive/pkg/apierror"
	"swapi-archive/pkg/response"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// CharacterReader reads the persisted snapshot.
type CharacterReader interface {
	ListCharacters(ctx context.Context, limit, offset int) ([]model.Character, int64, error)
	GetCharacter(ctx context.Context, id int64) (*model.Character, error)
}

// CharacterHandler serves the characters snapshot.
type CharacterHandler struct {
	repo   CharacterReader
	logger *zap.Logger
}

// NewCharacterHandler creates a new character handler.
func NewCharacterHandler(repo CharacterReader, log *zap.Logger) *CharacterHandler {
	return &CharacterHandler{
		repo:   repo,
		logger: logger.OrNop(log).Named("characters"),
	}
}

// List handles GET /api/v1/characters?page=&limit=
func (h *CharacterHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	if page > math.MaxInt/limit {
		response.Error(w, apierror.BadRequest("page is out of range"))
		return
	}
	offset := (page - 1) * limit

	characters, total, err := h.repo.ListCharacters(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list characters failed", zap.Error(err))
		response.Error(w, apierror.InternalError("Failed to fetch characters"))
		return
	}

	response.JSONWithMeta(w, http.StatusOK, characters, page, limit, total)
}

// Get handles GET /api/v1/characters/{id}
func (h *CharacterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 0 {
		response.Error(w, apierror.BadRequest("id must be a non-negative integer"))
		return
	}

	character, err := h.repo.GetCharacter(r.Context(), id)
	if err != nil {
		h.logger.Error("get character failed", zap.Int64("id", id), zap.Error(err))
		response.Error(w, apierror.InternalError("Failed to fetch character"))
		return
	}
	if character == nil {
		response.Error(w, apierror.NotFound("character not found"))
		return
	}

	response.OK(w, character)
}
