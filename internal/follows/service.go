package follows

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parishlabs/steeple/internal/auth"
	"github.com/parishlabs/steeple/internal/cache"
	"github.com/parishlabs/steeple/internal/globalid"
	"github.com/parishlabs/steeple/internal/rock"
)

const likedCountCacheTTL = 30 * time.Minute

var (
	errMissingDatabase   = errors.New("follows: database handle is required")
	errMissingCache      = errors.New("follows: cache store is required")
	errMissingConstants  = errors.New("follows: rock constants service is required")
	errMissingIDProvider = errors.New("follows: id provider is required")
)

// IDProvider issues identifiers for new follow records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the follow service.
type ServiceConfig struct {
	Database   *gorm.DB
	Cache      *cache.Store
	Constants  *rock.Constants
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages likes and the cached like counters. Reads degrade to safe
// defaults for anonymous callers; writes require an authenticated person.
type Service struct {
	db         *gorm.DB
	cache      *cache.Store
	constants  *rock.Constants
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the follow service with validated configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	if cfg.Constants == nil {
		return nil, errMissingConstants
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		cache:      cfg.Cache,
		constants:  cfg.Constants,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

type nodeRef struct {
	typeID int
	id     int
}

func (s *Service) resolveNode(ctx context.Context, nodeID string) (nodeRef, error) {
	decoded, err := globalid.Decode(nodeID)
	if err != nil {
		return nodeRef{}, err
	}
	entityType, err := s.constants.ModelType(ctx, decoded.TypeName)
	if err != nil {
		return nodeRef{}, err
	}
	localID, err := strconv.Atoi(decoded.LocalID)
	if err != nil {
		return nodeRef{}, &globalid.MalformedIDError{Raw: nodeID}
	}
	return nodeRef{typeID: entityType.ID, id: localID}, nil
}

// Follow records that the current person likes the node, updating the cached
// like state and counter synchronously so an immediate read is consistent.
func (s *Service) Follow(ctx context.Context, nodeID string) (*Follow, error) {
	person, err := auth.CurrentPerson(ctx)
	if err != nil {
		return nil, err
	}
	node, err := s.resolveNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	var existing Follow
	err = s.db.WithContext(ctx).
		Where("person_id = ? AND node_type_id = ? AND node_id = ?", person.ID, node.typeID, node.id).
		Take(&existing).Error
	if err == nil {
		// Already following; keep the cached state authoritative.
		s.cache.Set(userLikedKey(person.ID, node), true, 0)
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	followID, err := s.idProvider.NewID()
	if err != nil {
		return nil, err
	}
	follow := Follow{
		ID:            followID,
		PersonID:      person.ID,
		PersonAliasID: person.PrimaryAliasID,
		NodeTypeID:    node.typeID,
		NodeID:        node.id,
	}
	if err := s.db.WithContext(ctx).Create(&follow).Error; err != nil {
		return nil, err
	}

	s.cache.Set(userLikedKey(person.ID, node), true, 0)
	s.cache.Increment(likedCountKey(node), 1)
	return &follow, nil
}

// Unfollow removes the current person's like of the node.
func (s *Service) Unfollow(ctx context.Context, nodeID string) error {
	person, err := auth.CurrentPerson(ctx)
	if err != nil {
		return err
	}
	node, err := s.resolveNode(ctx, nodeID)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Where("person_id = ? AND node_type_id = ? AND node_id = ?", person.ID, node.typeID, node.id).
		Delete(&Follow{})
	if result.Error != nil {
		return result.Error
	}

	s.cache.Set(userLikedKey(person.ID, node), false, 0)
	if result.RowsAffected > 0 {
		s.cache.Decrement(likedCountKey(node), 1)
	}
	return nil
}

// LikedCount returns how many people like the node, cache-aside.
func (s *Service) LikedCount(ctx context.Context, nodeID string) (int64, error) {
	node, err := s.resolveNode(ctx, nodeID)
	if err != nil {
		return 0, err
	}

	if cached, ok := s.cache.Get(likedCountKey(node)).(int64); ok {
		return cached, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Follow{}).
		Where("node_type_id = ? AND node_id = ?", node.typeID, node.id).
		Count(&count).Error; err != nil {
		return 0, err
	}

	s.cache.Set(likedCountKey(node), count, likedCountCacheTTL)
	return count, nil
}

// IsLikedForCurrentUserAndNode reports whether the current person likes the
// node. Anonymous callers get false, never an error.
func (s *Service) IsLikedForCurrentUserAndNode(ctx context.Context, nodeID string) (bool, error) {
	person, err := auth.CurrentPerson(ctx)
	if errors.Is(err, auth.ErrAuthenticationRequired) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	node, err := s.resolveNode(ctx, nodeID)
	if err != nil {
		return false, err
	}

	if cached, ok := s.cache.Get(userLikedKey(person.ID, node)).(bool); ok {
		return cached, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Follow{}).
		Where("person_id = ? AND node_type_id = ? AND node_id = ?", person.ID, node.typeID, node.id).
		Count(&count).Error; err != nil {
		return false, err
	}

	liked := count > 0
	s.cache.Set(userLikedKey(person.ID, node), liked, 0)
	return liked, nil
}

// FollowingsForCurrentUser lists the current person's follows of the given
// node type, newest first. Anonymous callers get an empty list.
func (s *Service) FollowingsForCurrentUser(ctx context.Context, typeName string) ([]Follow, error) {
	person, err := auth.CurrentPerson(ctx)
	if errors.Is(err, auth.ErrAuthenticationRequired) {
		return []Follow{}, nil
	}
	if err != nil {
		return nil, err
	}

	entityType, err := s.constants.ModelType(ctx, typeName)
	if err != nil {
		return nil, err
	}

	var result []Follow
	if err := s.db.WithContext(ctx).
		Where("person_id = ? AND node_type_id = ?", person.ID, entityType.ID).
		Order("created_at DESC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func likedCountKey(node nodeRef) cache.Key {
	return cache.NewKey("likedCount", node.typeID, node.id)
}

func userLikedKey(personID int, node nodeRef) cache.Key {
	return cache.NewKey("userLiked", personID, node.typeID, node.id)
}
