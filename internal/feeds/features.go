package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/parishlabs/steeple/internal/config"
	"github.com/parishlabs/steeple/internal/globalid"
	"github.com/parishlabs/steeple/internal/prayer"
)

// Feature type names. Card-list variants differ only in client layout; they
// share the algorithm-backed build path.
const (
	FeatureActionList         = "ActionListFeature"
	FeatureActionBar          = "ActionBarFeature"
	FeatureHeroList           = "HeroListFeature"
	FeatureHorizontalCardList = "HorizontalCardListFeature"
	FeatureVerticalCardList   = "VerticalCardListFeature"
	FeatureText               = "TextFeature"
	FeatureWebview            = "WebviewFeature"
	FeatureScripture          = "ScriptureFeature"
	FeaturePrayerList         = "PrayerListFeature"
	FeatureCommentList        = "CommentListFeature"
)

// Feature is one orderable unit of feed content. Which payload fields are set
// depends on the type.
type Feature struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Order    int    `json:"order"`
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`

	Actions []Action               `json:"actions,omitempty"`
	Cards   []Action               `json:"cards,omitempty"`
	Prayers []prayer.PrayerRequest `json:"prayers,omitempty"`

	Body      string `json:"body,omitempty"`
	URL       string `json:"url,omitempty"`
	Reference string `json:"reference,omitempty"`
	NodeID    string `json:"nodeId,omitempty"`

	// Private marks a feature built from per-person data; feeds containing one
	// must never be served from a shared cache.
	Private bool `json:"-"`
}

// BuilderConfig describes the dependencies of the feature builder.
type BuilderConfig struct {
	Registry *Registry
	Prayers  *prayer.Service
	Logger   *zap.Logger
}

// Builder materializes feature definitions into feature nodes.
type Builder struct {
	registry *Registry
	prayers  *prayer.Service
	logger   *zap.Logger
}

// NewBuilder constructs the feature builder with validated configuration.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Registry == nil {
		return nil, errors.New("feeds: algorithm registry is required")
	}
	if cfg.Prayers == nil {
		return nil, errors.New("feeds: prayer service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{registry: cfg.Registry, prayers: cfg.Prayers, logger: logger}, nil
}

// BuildFeatures materializes the ordered definitions into features. Each
// algorithm-backed feature runs its own registry fan-out.
func (b *Builder) BuildFeatures(ctx context.Context, definitions []config.FeatureDefinition) ([]Feature, error) {
	features := make([]Feature, 0, len(definitions))
	for order, definition := range definitions {
		feature, err := b.buildFeature(ctx, definition, order)
		if err != nil {
			return nil, err
		}
		features = append(features, feature)
	}
	return features, nil
}

func (b *Builder) buildFeature(ctx context.Context, definition config.FeatureDefinition, order int) (Feature, error) {
	feature := Feature{
		ID:       featureID(definition, order),
		Type:     definition.Type,
		Order:    order,
		Title:    definition.Title,
		Subtitle: definition.Subtitle,
	}

	switch definition.Type {
	case FeatureActionList, FeatureActionBar:
		result, err := b.registry.Run(ctx, definition.Algorithms)
		if err != nil {
			return Feature{}, err
		}
		feature.Actions = result.Actions
		feature.Private = result.Private
	case FeatureHeroList, FeatureHorizontalCardList, FeatureVerticalCardList:
		result, err := b.registry.Run(ctx, definition.Algorithms)
		if err != nil {
			return Feature{}, err
		}
		feature.Cards = result.Actions
		feature.Private = result.Private
	case FeatureText:
		feature.Body = definition.Body
	case FeatureWebview:
		feature.URL = definition.URL
	case FeatureScripture:
		feature.Reference = definition.Body
	case FeaturePrayerList:
		requests, err := b.dailyPrayers(ctx, definition)
		if err != nil {
			return Feature{}, err
		}
		feature.Prayers = requests
		feature.Private = true
	case FeatureCommentList:
		feature.NodeID = definition.NodeID
	default:
		return Feature{}, fmt.Errorf("feeds: unknown feature type %q", definition.Type)
	}
	return feature, nil
}

// dailyPrayers loads the prayer payload for a prayer list feature. Arguments
// ride on the definition's first algorithm reference; a definition without one
// gets the default daily rotation.
func (b *Builder) dailyPrayers(ctx context.Context, definition config.FeatureDefinition) ([]prayer.PrayerRequest, error) {
	args := arguments(nil)
	if len(definition.Algorithms) > 0 {
		args = arguments(definition.Algorithms[0].Arguments)
	}
	requests, err := b.prayers.ByDailyPrayerFeed(ctx, prayer.DailyFeedArgs{
		NumberDaysSincePrayer: args.intOr("numberDaysSincePrayer", 0),
		PersonID:              args.intOr("personId", 0),
		Limit:                 args.intOr("limit", 10),
	})
	if err != nil {
		return nil, err
	}
	return dedupeByRequester(requests), nil
}

// featureID encodes the definition and position so the feature is
// re-fetchable from its id alone.
func featureID(definition config.FeatureDefinition, order int) string {
	payload, _ := json.Marshal(struct {
		Definition config.FeatureDefinition `json:"definition"`
		Order      int                      `json:"order"`
	}{definition, order})
	return globalid.Encode(string(payload), definition.Type)
}

// DecodeFeatureID reverses featureID, recovering the definition a feature was
// built from.
func DecodeFeatureID(opaqueID string) (config.FeatureDefinition, int, error) {
	node, err := globalid.Decode(opaqueID)
	if err != nil {
		return config.FeatureDefinition{}, 0, err
	}
	var payload struct {
		Definition config.FeatureDefinition `json:"definition"`
		Order      int                      `json:"order"`
	}
	if err := json.Unmarshal([]byte(node.LocalID), &payload); err != nil {
		return config.FeatureDefinition{}, 0, &globalid.MalformedIDError{Raw: opaqueID}
	}
	return payload.Definition, payload.Order, nil
}
