// Package service реализует бизнес-логику сервиса вознаграждений за переработку техники.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/ecorewards-system/internal/catalog"
	"github.com/mmeshcher/ecorewards-system/internal/classifier"
	"github.com/mmeshcher/ecorewards-system/internal/leaderboard"
	"github.com/mmeshcher/ecorewards-system/internal/metrics"
	"github.com/mmeshcher/ecorewards-system/internal/model"
	"github.com/mmeshcher/ecorewards-system/internal/progression"
	"github.com/mmeshcher/ecorewards-system/internal/repository"
	"github.com/mmeshcher/ecorewards-system/internal/validation"
)

// ErrInvalidCredentials возвращается при неверной паре email и пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	// MaxCommitAttempts ограничивает, сколько раз Recycle перечитывает учётную запись при конфликте версий.
	MaxCommitAttempts = 3
	// DashboardActivity задаёт число последних событий на панели пользователя.
	DashboardActivity = 5
	// DefaultHistoryLimit задаёт размер истории по умолчанию.
	DefaultHistoryLimit = 20
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateAccount(ctx context.Context, acc model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	CommitRecycling(ctx context.Context, updated model.Account, event model.RecyclingEvent) error
	UpdateProfile(ctx context.Context, updated model.Account) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
	RecentHistory(ctx context.Context, id string, limit int) ([]model.RecyclingEvent, error)
	Rank(ctx context.Context, id string, metric model.Metric) (model.RankInfo, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
}

// ConditionPicker выбирает состояние устройства после распознавания типа.
type ConditionPicker interface {
	ConditionFor(deviceType model.DeviceType) model.Condition
}

// Service содержит бизнес-логику сервиса.
type Service struct {
	repo       Repository
	catalog    *catalog.Catalog
	classifier classifier.Strategy
	conditions ConditionPicker
	logger     *zap.Logger

	now      func() time.Time
	hashCost int
}

// NewService создаёт сервис. Если cls == nil, используется классификатор по ключевым словам.
func NewService(repo Repository, cat *catalog.Catalog, cls classifier.Strategy, conditions ConditionPicker, logger *zap.Logger) *Service {
	keyword := classifier.NewKeyword(nil)
	if cat == nil {
		cat = catalog.Default()
	}
	if cls == nil {
		cls = keyword
	}
	if conditions == nil {
		conditions = keyword
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:       repo,
		catalog:    cat,
		classifier: cls,
		conditions: conditions,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		hashCost:   bcrypt.DefaultCost,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Register создаёт учётную запись. Пустое имя заменяется локальной частью email.
func (s *Service) Register(ctx context.Context, email, password, name string) (*model.Account, error) {
	if err := validation.Credentials(email, password); err != nil {
		return nil, err
	}
	if err := validation.Name(name); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	email = repository.NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if name == "" {
		name = email[:strings.LastIndexByte(email, '@')]
	}

	now := s.now()
	acc := model.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Level:        1,
		Badges:       []model.Badge{model.BadgeFirstRecycle},
		Preferences:  model.DefaultPreferences(),
		Profile:      model.Profile{JoinedDate: now},
		CreatedAt:    now,
		LastLogin:    now,
		LastActivity: now,
	}

	if err := s.repo.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}

	metrics.RecordRegistration()
	s.logger.Info("account registered", zap.String("account_id", acc.ID))
	return &acc, nil
}

// Authenticate проверяет email и пароль и отмечает время входа.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.Account, error) {
	acc, err := s.repo.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if err := s.repo.TouchLogin(ctx, acc.ID, now); err != nil {
		return nil, err
	}
	acc.LastLogin = now
	acc.LastActivity = now
	return acc, nil
}

// Account возвращает учётную запись по идентификатору.
func (s *Service) Account(ctx context.Context, id string) (*model.Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// ProfileUpdate перечисляет изменяемые пользователем поля. nil означает «не менять».
type ProfileUpdate struct {
	Name        *string
	Profile     *model.Profile
	Preferences *model.Preferences
}

// UpdateProfile меняет имя, профиль и настройки. Статистика и достижения не затрагиваются.
func (s *Service) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (*model.Account, error) {
	if upd.Name != nil {
		if err := validation.Name(*upd.Name); err != nil {
			return nil, err
		}
		if strings.TrimSpace(*upd.Name) == "" {
			return nil, fmt.Errorf("%w: name must not be empty", validation.ErrInvalid)
		}
	}
	if upd.Profile != nil {
		if err := validation.Bio(upd.Profile.Bio); err != nil {
			return nil, err
		}
		if dt := upd.Profile.FavoriteDeviceType; dt != "" && !dt.Valid() {
			return nil, fmt.Errorf("%w: %w", validation.ErrInvalid, catalog.ErrUnknownDeviceType)
		}
	}

	for attempt := 1; ; attempt++ {
		acc, err := s.repo.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}

		if upd.Name != nil {
			acc.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Profile != nil {
			joined := acc.Profile.JoinedDate
			acc.Profile = *upd.Profile
			acc.Profile.JoinedDate = joined
		}
		if upd.Preferences != nil {
			acc.Preferences = *upd.Preferences
		}
		acc.LastActivity = s.now()

		err = s.repo.UpdateProfile(ctx, *acc)
		if err == nil {
			acc.Version++
			return acc, nil
		}
		if !errors.Is(err, repository.ErrConflict) || attempt >= MaxCommitAttempts {
			return nil, err
		}
	}
}

// ScanResult содержит результат распознавания устройства с предлагаемым начислением.
type ScanResult struct {
	Analysis            Analysis     `json:"analysis"`
	EnvironmentalImpact model.Impact `json:"environmentalImpact"`
}

// Analysis описывает распознанное устройство.
type Analysis struct {
	DeviceType     model.DeviceType `json:"deviceType"`
	Condition      model.Condition  `json:"condition"`
	Confidence     float64          `json:"confidence"`
	CoinsReward    int64            `json:"coinsReward"`
	EstimatedValue float64          `json:"estimatedValue"`
}

// Scan распознаёт устройство по подписи или имени файла. Учётная запись не изменяется.
func (s *Service) Scan(ctx context.Context, label string) (*ScanResult, error) {
	rec, err := s.classifier.Classify(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("classify device: %w", err)
	}

	cond := s.conditions.ConditionFor(rec.DeviceType)
	reward, err := s.catalog.Lookup(rec.DeviceType, cond)
	if err != nil {
		return nil, err
	}

	return &ScanResult{
		Analysis: Analysis{
			DeviceType:     rec.DeviceType,
			Condition:      cond,
			Confidence:     rec.Confidence,
			CoinsReward:    reward.Coins,
			EstimatedValue: reward.EstimatedValue,
		},
		EnvironmentalImpact: s.catalog.ImpactFor(rec.DeviceType),
	}, nil
}

// RecycleRequest описывает заявку пользователя на переработку.
type RecycleRequest struct {
	DeviceType model.DeviceType
	Condition  model.Condition
	Location   string
	ImageURL   string
}

// RecycleResult содержит сохранённый результат переработки.
type RecycleResult struct {
	progression.Result
	EnvironmentalImpact model.Impact
}

// Submission сопоставляет заявку со справочником устройств.
func (s *Service) Submission(req RecycleRequest) (model.Submission, error) {
	if !req.DeviceType.Valid() {
		return model.Submission{}, fmt.Errorf("%w: device type %q", progression.ErrInvalidSubmission, req.DeviceType)
	}
	if !req.Condition.Valid() {
		return model.Submission{}, fmt.Errorf("%w: condition %q", progression.ErrInvalidSubmission, req.Condition)
	}

	reward, err := s.catalog.Lookup(req.DeviceType, req.Condition)
	if err != nil {
		return model.Submission{}, fmt.Errorf("%w: %w", progression.ErrInvalidSubmission, err)
	}

	return model.Submission{
		DeviceType:     req.DeviceType,
		Condition:      req.Condition,
		CoinsReward:    reward.Coins,
		EstimatedValue: reward.EstimatedValue,
		CO2Saved:       s.catalog.ImpactFor(req.DeviceType).CO2Kg,
		Location:       strings.TrimSpace(req.Location),
		ImageURL:       req.ImageURL,
	}, nil
}

// Recycle начисляет вознаграждение за устройство.
// При конфликте версий учётная запись перечитывается, всего не более MaxCommitAttempts попыток.
func (s *Service) Recycle(ctx context.Context, id string, req RecycleRequest) (*RecycleResult, error) {
	sub, err := s.Submission(req)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= MaxCommitAttempts; attempt++ {
		acc, err := s.repo.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}

		res, err := progression.Apply(*acc, sub, s.now())
		if err != nil {
			return nil, err
		}

		err = s.repo.CommitRecycling(ctx, res.Account, res.Event)
		if err == nil {
			res.Account.Version++
			metrics.RecordRecycling(res.Event.DeviceType, res.Event.CoinsEarned, res.NewBadges)
			s.logger.Info("device recycled",
				zap.String("account_id", id),
				zap.String("device_type", string(res.Event.DeviceType)),
				zap.Int64("coins", res.Event.CoinsEarned),
				zap.Int("new_badges", len(res.NewBadges)),
			)
			return &RecycleResult{Result: res, EnvironmentalImpact: s.catalog.ImpactFor(sub.DeviceType)}, nil
		}

		if !errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		metrics.RecordConflict()
		s.logger.Debug("recycling commit conflict", zap.String("account_id", id), zap.Int("attempt", attempt))
	}

	return nil, fmt.Errorf("commit recycling after %d attempts: %w", MaxCommitAttempts, repository.ErrConflict)
}

// History возвращает последние события переработки, начиная с самого нового.
func (s *Service) History(ctx context.Context, id string, limit int) ([]model.RecyclingEvent, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.repo.RecentHistory(ctx, id, limit)
}

// Impact описывает накопленный экологический эффект пользователя.
type Impact struct {
	CO2Saved        float64 `json:"co2Saved"`
	TreesEquivalent int64   `json:"treesEquivalent"`
	EnergySaved     int64   `json:"energySaved"`
	WasteDiverted   int64   `json:"wasteDiverted"`
}

// ImpactOf оценивает эффект по накопленной статистике.
func ImpactOf(acc *model.Account) Impact {
	return Impact{
		CO2Saved:        acc.CO2Saved,
		TreesEquivalent: int64(math.Round(acc.CO2Saved * 0.06)),
		EnergySaved:     acc.DevicesRecycled * 25,
		WasteDiverted:   int64(math.Round(float64(acc.DevicesRecycled) * 0.8)),
	}
}

// Dashboard содержит сводку для главной страницы пользователя.
type Dashboard struct {
	Account             *model.Account
	NextLevelProgress   progression.LevelProgress
	RecentActivity      []model.RecyclingEvent
	EnvironmentalImpact Impact
}

// Dashboard собирает сводку пользователя.
func (s *Service) Dashboard(ctx context.Context, id string) (*Dashboard, error) {
	acc, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	recent, err := s.repo.RecentHistory(ctx, id, DashboardActivity)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		Account:             acc,
		NextLevelProgress:   progression.NextLevelProgress(acc.DevicesRecycled),
		RecentActivity:      recent,
		EnvironmentalImpact: ImpactOf(acc),
	}, nil
}

// Rank возвращает место пользователя по показателю.
func (s *Service) Rank(ctx context.Context, id string, metric model.Metric) (model.RankInfo, error) {
	return s.repo.Rank(ctx, id, metric)
}

// Leaderboard возвращает первые limit пользователей по показателю.
func (s *Service) Leaderboard(ctx context.Context, metric model.Metric, limit int) ([]leaderboard.Entry, error) {
	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return leaderboard.Top(accounts, metric, limit), nil
}

// PlatformStats суммирует показатели всех пользователей.
func (s *Service) PlatformStats(ctx context.Context) (model.PlatformStats, error) {
	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return model.PlatformStats{}, err
	}
	return leaderboard.PlatformStats(accounts), nil
}

// StartStatsRefresher публикует статистику платформы в метриках по расписанию cron.
// Блокируется до отмены ctx.
func (s *Service) StartStatsRefresher(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.refreshStats(ctx) }); err != nil {
		return fmt.Errorf("schedule stats refresh %q: %w", schedule, err)
	}

	s.refreshStats(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Service) refreshStats(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	stats, err := s.PlatformStats(ctx)
	if err != nil {
		s.logger.Warn("platform stats refresh failed", zap.Error(err))
		return
	}

	metrics.SetPlatformStats(stats)
	s.logger.Debug("platform stats refreshed", zap.Int("users", stats.TotalUsers))
}
