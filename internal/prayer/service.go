package prayer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parishlabs/steeple/internal/auth"
)

var (
	errMissingDatabase = errors.New("prayer: database handle is required")
	// ErrEmptyPrayerText rejects prayers without content.
	ErrEmptyPrayerText = errors.New("prayer: text is required")
	// ErrNotFound indicates the referenced prayer request does not exist.
	ErrNotFound = errors.New("prayer: request not found")
)

// DailyFeedArgs selects prayers for the daily rotation.
type DailyFeedArgs struct {
	// NumberDaysSincePrayer restricts the feed to requests created within the
	// window; zero means no window.
	NumberDaysSincePrayer int
	// PersonID, when set, selects requests made by that person instead of the
	// shared public rotation.
	PersonID int
	Limit    int
}

// ServiceConfig describes the dependencies of the prayer service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages prayer requests in the extension store.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the prayer service with validated configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// AddPrayer stores a new prayer request for the current person. Anonymous
// requests stay private to the requester.
func (s *Service) AddPrayer(ctx context.Context, text string, isAnonymous bool, campusID int) (*PrayerRequest, error) {
	person, err := auth.CurrentPerson(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyPrayerText
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	request := PrayerRequest{
		ID:                       id.String(),
		Text:                     strings.TrimSpace(text),
		RequestedByPersonID:      person.ID,
		RequestedByPersonAliasID: person.PrimaryAliasID,
		CampusID:                 campusID,
		IsPublic:                 !isAnonymous,
	}
	if err := s.db.WithContext(ctx).Create(&request).Error; err != nil {
		return nil, err
	}

	s.logger.Info("prayer request added",
		zap.String("prayer_id", request.ID),
		zap.Int("person_id", person.ID),
		zap.Bool("public", request.IsPublic))
	return &request, nil
}

// ByDailyPrayerFeed returns requests eligible for the daily rotation, newest
// first. Deduplication by requester is the caller's concern.
func (s *Service) ByDailyPrayerFeed(ctx context.Context, args DailyFeedArgs) ([]PrayerRequest, error) {
	query := s.db.WithContext(ctx).Model(&PrayerRequest{})
	if args.PersonID != 0 {
		query = query.Where("requested_by_person_id = ?", args.PersonID)
	} else {
		query = query.Where("is_public = ?", true)
	}
	if args.NumberDaysSincePrayer > 0 {
		cutoff := s.clock().UTC().AddDate(0, 0, -args.NumberDaysSincePrayer)
		query = query.Where("created_at >= ?", cutoff)
	}
	if args.Limit > 0 {
		query = query.Limit(args.Limit)
	}

	var requests []PrayerRequest
	if err := query.Order("created_at DESC").Find(&requests).Error; err != nil {
		return nil, err
	}
	if requests == nil {
		requests = []PrayerRequest{}
	}
	return requests, nil
}

// GetFromID loads a single prayer request.
func (s *Service) GetFromID(ctx context.Context, id string) (*PrayerRequest, error) {
	var request PrayerRequest
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// IncrementPrayed bumps the denormalized prayed counter on a request.
func (s *Service) IncrementPrayed(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&PrayerRequest{}).
		Where("id = ?", id).
		UpdateColumn("prayer_count", gorm.Expr("prayer_count + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
