// Package handler содержит HTTP-обработчики API сервиса вознаграждений.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/ecorewards-system/internal/catalog"
	"github.com/mmeshcher/ecorewards-system/internal/classifier"
	"github.com/mmeshcher/ecorewards-system/internal/leaderboard"
	"github.com/mmeshcher/ecorewards-system/internal/middleware"
	"github.com/mmeshcher/ecorewards-system/internal/model"
	"github.com/mmeshcher/ecorewards-system/internal/progression"
	"github.com/mmeshcher/ecorewards-system/internal/repository"
	"github.com/mmeshcher/ecorewards-system/internal/service"
	"github.com/mmeshcher/ecorewards-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Register(ctx context.Context, email, password, name string) (*model.Account, error)
	Authenticate(ctx context.Context, email, password string) (*model.Account, error)
	Account(ctx context.Context, id string) (*model.Account, error)
	UpdateProfile(ctx context.Context, id string, upd service.ProfileUpdate) (*model.Account, error)
	Dashboard(ctx context.Context, id string) (*service.Dashboard, error)
	Rank(ctx context.Context, id string, metric model.Metric) (model.RankInfo, error)
	Leaderboard(ctx context.Context, metric model.Metric, limit int) ([]leaderboard.Entry, error)
	PlatformStats(ctx context.Context) (model.PlatformStats, error)
	Scan(ctx context.Context, label string) (*service.ScanResult, error)
	Recycle(ctx context.Context, id string, req service.RecycleRequest) (*service.RecycleResult, error)
	History(ctx context.Context, id string, limit int) ([]model.RecyclingEvent, error)
}

// Handler реализует HTTP-обработчики API сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	rateLimiter    *middleware.RateLimiter
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// limiter может быть nil, тогда частота заявок не ограничивается.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, limiter *middleware.RateLimiter) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		rateLimiter:    limiter,
	}
}

type userResponse struct {
	ID              string            `json:"id"`
	Email           string            `json:"email"`
	Name            string            `json:"name"`
	Coins           int64             `json:"coins"`
	Level           int               `json:"level"`
	DevicesRecycled int64             `json:"devicesRecycled"`
	TotalValue      float64           `json:"totalValue"`
	CO2Saved        float64           `json:"co2Saved"`
	Badges          []model.Badge     `json:"badges"`
	Preferences     model.Preferences `json:"preferences"`
	Profile         model.Profile     `json:"profile"`
	CreatedAt       time.Time         `json:"createdAt"`
	LastLogin       time.Time         `json:"lastLogin"`
}

func toUserResponse(acc *model.Account) userResponse {
	badges := acc.Badges
	if badges == nil {
		badges = []model.Badge{}
	}
	return userResponse{
		ID:              acc.ID,
		Email:           acc.Email,
		Name:            acc.Name,
		Coins:           acc.Coins,
		Level:           acc.Level,
		DevicesRecycled: acc.DevicesRecycled,
		TotalValue:      acc.TotalValue,
		CO2Saved:        acc.CO2Saved,
		Badges:          badges,
		Preferences:     acc.Preferences,
		Profile:         acc.Profile,
		CreatedAt:       acc.CreatedAt,
		LastLogin:       acc.LastLogin,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, message string) {
	if message == "" {
		message = http.StatusText(code)
	}
	h.writeJSON(w, code, map[string]string{"error": message})
}

// handleServiceError сопоставляет ошибку бизнес-логики с HTTP-статусом.
func (h *Handler) handleServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, validation.ErrInvalid),
		errors.Is(err, progression.ErrInvalidSubmission),
		errors.Is(err, catalog.ErrUnknownDeviceType),
		errors.Is(err, leaderboard.ErrUnknownMetric):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, repository.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, repository.ErrAccountExists):
		h.writeError(w, http.StatusConflict, "user already exists")
	case errors.Is(err, repository.ErrConflict):
		h.writeError(w, http.StatusConflict, "account is being updated, retry the request")
	case errors.Is(err, classifier.ErrNoOpinion):
		h.writeError(w, http.StatusUnprocessableEntity, "device could not be recognized")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		h.logger.Error(op+" error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "")
	}
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "access token required")
	}
	return userID, ok
}

func queryInt(r *http.Request, key string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	acc, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.handleServiceError(w, "register user", err)
		return
	}

	h.respondWithToken(w, http.StatusCreated, acc)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и выдаёт токен.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	acc, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleServiceError(w, "login user", err)
		return
	}

	h.respondWithToken(w, http.StatusOK, acc)
}

func (h *Handler) respondWithToken(w http.ResponseWriter, code int, acc *model.Account) {
	token, err := h.authMiddleware.IssueToken(acc.ID, acc.Email)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "")
		return
	}

	h.writeJSON(w, code, authResponse{Token: token, User: toUserResponse(acc)})
}

// GetProfile возвращает профиль текущего пользователя.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	acc, err := h.service.Account(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "get profile", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(acc)})
}

type updateProfileRequest struct {
	Name        *string            `json:"name"`
	Profile     *model.Profile     `json:"profile"`
	Preferences *model.Preferences `json:"preferences"`
}

// UpdateProfile меняет имя, профиль и настройки текущего пользователя.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	acc, err := h.service.UpdateProfile(r.Context(), userID, service.ProfileUpdate{
		Name:        req.Name,
		Profile:     req.Profile,
		Preferences: req.Preferences,
	})
	if err != nil {
		h.handleServiceError(w, "update profile", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(acc)})
}

type dashboardResponse struct {
	User                userResponse              `json:"user"`
	NextLevelProgress   progression.LevelProgress `json:"nextLevelProgress"`
	RecentActivity      []model.RecyclingEvent    `json:"recentActivity"`
	EnvironmentalImpact service.Impact            `json:"environmentalImpact"`
}

// Dashboard возвращает сводку текущего пользователя.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	d, err := h.service.Dashboard(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "get dashboard", err)
		return
	}

	recent := d.RecentActivity
	if recent == nil {
		recent = []model.RecyclingEvent{}
	}

	h.writeJSON(w, http.StatusOK, dashboardResponse{
		User:                toUserResponse(d.Account),
		NextLevelProgress:   d.NextLevelProgress,
		RecentActivity:      recent,
		EnvironmentalImpact: d.EnvironmentalImpact,
	})
}

// Rank возвращает место текущего пользователя в рейтинге.
func (h *Handler) Rank(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	metric, err := leaderboard.ParseMetric(r.URL.Query().Get("metric"))
	if err != nil {
		h.handleServiceError(w, "parse metric", err)
		return
	}

	info, err := h.service.Rank(r.Context(), userID, metric)
	if err != nil {
		h.handleServiceError(w, "get rank", err)
		return
	}

	h.writeJSON(w, http.StatusOK, info)
}

// VerifyToken подтверждает действительность токена и возвращает пользователя.
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	acc, err := h.service.Account(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "verify token", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"valid": true, "user": toUserResponse(acc)})
}

// Leaderboard возвращает рейтинг пользователей.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	metric, err := leaderboard.ParseMetric(r.URL.Query().Get("type"))
	if err != nil {
		h.handleServiceError(w, "parse metric", err)
		return
	}

	limit, ok := queryInt(r, "limit")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	entries, err := h.service.Leaderboard(r.Context(), metric, limit)
	if err != nil {
		h.handleServiceError(w, "get leaderboard", err)
		return
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"type": metric, "leaderboard": entries})
}

// Stats возвращает статистику платформы.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.PlatformStats(r.Context())
	if err != nil {
		h.handleServiceError(w, "get stats", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// Health сообщает, что сервис запущен.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}
