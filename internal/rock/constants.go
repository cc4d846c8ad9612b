package rock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const entityTypeCacheTTL = time.Hour

// ErrUnknownNodeType indicates a node type with no upstream entity mapping.
var ErrUnknownNodeType = errors.New("rock: node type has no upstream entity mapping")

// EntityType is the upstream registration of a model type, used to address
// interactions and follows at arbitrary entities.
type EntityType struct {
	ID           int
	Name         string
	FriendlyName string
}

// ConstantsConfig wires the constants service.
type ConstantsConfig struct {
	Client *Client
	// ModelNames maps API node type names (e.g. "ContentItem") to upstream
	// model names (e.g. "Rock.Model.ContentChannelItem").
	ModelNames map[string]string
	Logger     *zap.Logger
}

// Constants resolves upstream entity types and interaction components,
// creating the latter on first use.
type Constants struct {
	client     *Client
	modelNames map[string]string
	logger     *zap.Logger
}

// NewConstants constructs the constants service.
func NewConstants(cfg ConstantsConfig) (*Constants, error) {
	if cfg.Client == nil {
		return nil, errors.New("rock: constants require a client")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Constants{
		client:     cfg.Client,
		modelNames: cfg.ModelNames,
		logger:     logger,
	}, nil
}

// ModelType returns the upstream entity type registered for a node type name.
func (s *Constants) ModelType(ctx context.Context, typeName string) (EntityType, error) {
	modelName, ok := s.modelNames[typeName]
	if !ok {
		return EntityType{}, fmt.Errorf("%w: %s", ErrUnknownNodeType, typeName)
	}

	record, err := s.client.Request("EntityTypes").
		Filter(fmt.Sprintf("Name eq '%s'", modelName)).
		Cache(entityTypeCacheTTL).
		First(ctx)
	if err != nil {
		return EntityType{}, err
	}
	if record == nil {
		return EntityType{}, fmt.Errorf("%w: %s not registered upstream", ErrUnknownNodeType, modelName)
	}

	return EntityType{
		ID:           record.Int("Id"),
		Name:         record.String("Name"),
		FriendlyName: record.String("FriendlyName"),
	}, nil
}

// InteractionComponent finds or creates the interaction component addressing
// a single entity, along with the per-entity-type channel that owns it.
func (s *Constants) InteractionComponent(ctx context.Context, entityType EntityType, entityID int) (Record, error) {
	channel, err := s.findOrCreateChannel(ctx, entityType)
	if err != nil {
		return nil, err
	}
	channelID := channel.Int("Id")

	component, err := s.client.Request("InteractionComponents").
		Filter(fmt.Sprintf("EntityId eq %d", entityID)).
		AndFilter(fmt.Sprintf("InteractionChannelId eq %d", channelID)).
		First(ctx)
	if err != nil {
		return nil, err
	}
	if component != nil {
		return component, nil
	}

	componentID, err := s.client.Post(ctx, "InteractionComponents", map[string]any{
		"Name":                 fmt.Sprintf("%s - %d", entityType.FriendlyName, entityID),
		"EntityId":             entityID,
		"InteractionChannelId": channelID,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("created interaction component",
		zap.String("component_id", componentID),
		zap.Int("entity_id", entityID))
	return s.client.GetOne(ctx, "InteractionComponents/"+componentID)
}

func (s *Constants) findOrCreateChannel(ctx context.Context, entityType EntityType) (Record, error) {
	channelName := fmt.Sprintf("%s Interactions", entityType.FriendlyName)
	channel, err := s.client.Request("InteractionChannels").
		Filter(fmt.Sprintf("Name eq '%s'", channelName)).
		AndFilter(fmt.Sprintf("ComponentEntityTypeId eq %d", entityType.ID)).
		Cache(entityTypeCacheTTL).
		First(ctx)
	if err != nil {
		return nil, err
	}
	if channel != nil {
		return channel, nil
	}

	channelID, err := s.client.Post(ctx, "InteractionChannels", map[string]any{
		"Name":                  channelName,
		"ComponentEntityTypeId": entityType.ID,
	})
	if err != nil {
		return nil, err
	}
	return s.client.GetOne(ctx, "InteractionChannels/"+channelID)
}
