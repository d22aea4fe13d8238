package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/mmeshcher/ecorewards-system/internal/model"
	"github.com/mmeshcher/ecorewards-system/internal/service"
)

const (
	// MaxImageSize ограничивает размер загружаемого изображения.
	MaxImageSize = 10 << 20
	// MaxLabelBodySize ограничивает JSON-тело запроса распознавания по подписи.
	MaxLabelBodySize = 64 << 10
	imageField       = "deviceImage"
)

type scanRequest struct {
	Label string `json:"label"`
}

// Scan распознаёт устройство по загруженному изображению или подписи.
// Содержимое изображения не анализируется: используется только имя файла.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.userID(w, r); !ok {
		return
	}

	label, code, msg := h.scanLabel(w, r)
	if code != 0 {
		h.writeError(w, code, msg)
		return
	}

	res, err := h.service.Scan(r.Context(), label)
	if err != nil {
		h.handleServiceError(w, "scan device", err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) scanLabel(w http.ResponseWriter, r *http.Request) (string, int, string) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType != "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, MaxLabelBodySize)

		var req scanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", http.StatusRequestEntityTooLarge, "request body is too large"
			}
			return "", http.StatusBadRequest, "malformed request body"
		}
		if strings.TrimSpace(req.Label) == "" {
			return "", http.StatusBadRequest, "label is required"
		}
		return req.Label, 0, ""
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxImageSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", http.StatusRequestEntityTooLarge, "image must not exceed 10MB"
		}
		return "", http.StatusBadRequest, "malformed multipart body"
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(imageField)
	if err != nil {
		return "", http.StatusBadRequest, "no image file provided"
	}
	defer file.Close()

	if header.Size > MaxImageSize {
		return "", http.StatusRequestEntityTooLarge, "image must not exceed 10MB"
	}

	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		return "", http.StatusBadRequest, "only image files are allowed"
	}

	// Изображение не сохраняется
	_, _ = io.Copy(io.Discard, file)

	return filepath.Base(header.Filename), 0, ""
}

type recycleRequest struct {
	DeviceType model.DeviceType `json:"deviceType"`
	Condition  model.Condition  `json:"condition"`
	Location   string           `json:"location"`
	ImageURL   string           `json:"imageUrl"`
}

type recycleUser struct {
	Coins           int64         `json:"coins"`
	Level           int           `json:"level"`
	DevicesRecycled int64         `json:"devicesRecycled"`
	Badges          []model.Badge `json:"badges"`
	TotalValue      float64       `json:"totalValue"`
	CO2Saved        float64       `json:"co2Saved"`
}

type recycleResponse struct {
	Transaction         model.RecyclingEvent `json:"transaction"`
	NewBadges           []model.Badge        `json:"newBadges"`
	User                recycleUser          `json:"user"`
	EnvironmentalImpact model.Impact         `json:"environmentalImpact"`
}

// Recycle начисляет вознаграждение за сданное устройство.
// Начисление и оценка берутся из справочника, а не из запроса.
func (h *Handler) Recycle(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req recycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.DeviceType == "" || req.Condition == "" {
		h.writeError(w, http.StatusBadRequest, "deviceType and condition are required")
		return
	}

	res, err := h.service.Recycle(r.Context(), userID, service.RecycleRequest{
		DeviceType: req.DeviceType,
		Condition:  req.Condition,
		Location:   req.Location,
		ImageURL:   req.ImageURL,
	})
	if err != nil {
		h.handleServiceError(w, "recycle device", err)
		return
	}

	newBadges := res.NewBadges
	if newBadges == nil {
		newBadges = []model.Badge{}
	}

	h.writeJSON(w, http.StatusOK, recycleResponse{
		Transaction: res.Event,
		NewBadges:   newBadges,
		User: recycleUser{
			Coins:           res.Account.Coins,
			Level:           res.Account.Level,
			DevicesRecycled: res.Account.DevicesRecycled,
			Badges:          res.Account.Badges,
			TotalValue:      res.Account.TotalValue,
			CO2Saved:        res.Account.CO2Saved,
		},
		EnvironmentalImpact: res.EnvironmentalImpact,
	})
}

type historyResponse struct {
	History      []model.RecyclingEvent `json:"history"`
	TotalDevices int64                  `json:"totalDevices"`
	TotalCoins   int64                  `json:"totalCoins"`
}

// History возвращает последние события переработки текущего пользователя.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	limit, ok := queryInt(r, "limit")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	acc, err := h.service.Account(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "get history", err)
		return
	}

	history, err := h.service.History(r.Context(), userID, limit)
	if err != nil {
		h.handleServiceError(w, "get history", err)
		return
	}
	if history == nil {
		history = []model.RecyclingEvent{}
	}

	h.writeJSON(w, http.StatusOK, historyResponse{
		History:      history,
		TotalDevices: acc.DevicesRecycled,
		TotalCoins:   acc.Coins,
	})
}
