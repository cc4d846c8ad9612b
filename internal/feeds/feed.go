package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/parishlabs/steeple/internal/config"
	"github.com/parishlabs/steeple/internal/content"
	"github.com/parishlabs/steeple/internal/globalid"
)

// feedTypeName is the node type a feed id decodes to.
const feedTypeName = "FeatureFeed"

// Descriptor kinds a feed can be assembled from.
const (
	feedKindTab         = "tab"
	feedKindSection     = "section"
	feedKindContentItem = "contentItem"
	feedKindExplicit    = "explicit"
)

// ErrNotAFeed indicates an id that decodes to some other node type.
var ErrNotAFeed = errors.New("feeds: id does not reference a feature feed")

// descriptor is the reproducible identity of a feed: everything needed to
// regenerate it without server-side session state. It serializes into the
// feed's node id.
type descriptor struct {
	Type     string                     `json:"type"`
	Args     map[string]string          `json:"args,omitempty"`
	Features []config.FeatureDefinition `json:"features,omitempty"`
}

// Feed is a lazily evaluated feature feed. Constructing one performs no I/O;
// the features materialize only when asked for, so a caller that only wants
// the id never triggers the underlying algorithm executions.
type Feed struct {
	id      string
	produce func(ctx context.Context) ([]Feature, error)
}

// ID returns the feed's reproducible opaque identity.
func (f *Feed) ID() string {
	return globalid.Encode(f.id, feedTypeName)
}

// Features runs the deferred producer and returns the ordered feature list.
func (f *Feed) Features(ctx context.Context) ([]Feature, error) {
	return f.produce(ctx)
}

// Tab is one top-level app tab with its (still lazy) feed.
type Tab struct {
	Title string
	Icon  string
	Feed  *Feed
}

// ServiceConfig describes the dependencies of the feed assembler.
type ServiceConfig struct {
	Builder *Builder
	Content *content.Source
	Feeds   config.FeedsConfig
	Tabs    []config.TabConfig
	Logger  *zap.Logger
}

// Service resolves feed descriptors into lazily evaluated feature feeds.
type Service struct {
	builder *Builder
	content *content.Source
	feeds   config.FeedsConfig
	tabs    []config.TabConfig
	logger  *zap.Logger
}

// NewService constructs the feed assembler with validated configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Builder == nil {
		return nil, errors.New("feeds: feature builder is required")
	}
	if cfg.Content == nil {
		return nil, errors.New("feeds: content source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		builder: cfg.Builder,
		content: cfg.Content,
		feeds:   cfg.Feeds,
		tabs:    cfg.Tabs,
		logger:  logger,
	}, nil
}

// HomeFeed returns the statically configured home section feed.
func (s *Service) HomeFeed() *Feed {
	return s.feedFor(descriptor{Type: feedKindSection, Args: map[string]string{"section": "home"}})
}

// DiscoverFeed returns the statically configured discover section feed.
func (s *Service) DiscoverFeed() *Feed {
	return s.feedFor(descriptor{Type: feedKindSection, Args: map[string]string{"section": "discover"}})
}

// TabFeed returns the feed configured under a named tab bucket. Unknown tabs
// resolve to an empty feed, not an error.
func (s *Service) TabFeed(tab string) *Feed {
	return s.feedFor(descriptor{Type: feedKindTab, Args: map[string]string{"tab": tab}})
}

// ContentItemFeed returns the feed a content item carries: the item is asked
// for its own associated features rather than looked up in static config.
func (s *Service) ContentItemFeed(nodeID string) *Feed {
	return s.feedFor(descriptor{Type: feedKindContentItem, Args: map[string]string{"id": nodeID}})
}

// Tabs returns the app's top-level tabs, each wrapping an explicit-feature
// feed built from its configured list.
func (s *Service) Tabs() []Tab {
	tabs := make([]Tab, 0, len(s.tabs))
	for _, tab := range s.tabs {
		tabs = append(tabs, Tab{
			Title: tab.Title,
			Icon:  tab.Icon,
			Feed:  s.feedFor(descriptor{Type: feedKindExplicit, Features: tab.Features}),
		})
	}
	return tabs
}

// GetFromID regenerates a feed from its opaque id. Equivalent descriptors
// yield equivalent feeds; no server-side state is consulted.
func (s *Service) GetFromID(opaqueID string) (*Feed, error) {
	node, err := globalid.Decode(opaqueID)
	if err != nil {
		return nil, err
	}
	if node.TypeName != feedTypeName {
		return nil, ErrNotAFeed
	}
	var desc descriptor
	if err := json.Unmarshal([]byte(node.LocalID), &desc); err != nil {
		return nil, &globalid.MalformedIDError{Raw: opaqueID}
	}
	return s.feedFor(desc), nil
}

func (s *Service) feedFor(desc descriptor) *Feed {
	// The descriptor serializes deterministically; structurally identical
	// feeds share an id.
	encoded, _ := json.Marshal(desc)
	return &Feed{
		id:      string(encoded),
		produce: func(ctx context.Context) ([]Feature, error) { return s.resolve(ctx, desc) },
	}
}

func (s *Service) resolve(ctx context.Context, desc descriptor) ([]Feature, error) {
	if len(desc.Features) > 0 {
		return s.builder.BuildFeatures(ctx, desc.Features)
	}

	switch desc.Type {
	case feedKindTab:
		return s.builder.BuildFeatures(ctx, s.feeds.Tabs[desc.Args["tab"]])
	case feedKindSection:
		switch desc.Args["section"] {
		case "home":
			return s.builder.BuildFeatures(ctx, s.feeds.Home)
		case "discover":
			return s.builder.BuildFeatures(ctx, s.feeds.Discover)
		default:
			return []Feature{}, nil
		}
	case feedKindContentItem:
		return s.contentItemFeatures(ctx, desc.Args["id"])
	default:
		return []Feature{}, nil
	}
}

func (s *Service) contentItemFeatures(ctx context.Context, nodeID string) ([]Feature, error) {
	node, err := globalid.Decode(nodeID)
	if err != nil {
		return nil, err
	}
	itemID, err := strconv.Atoi(node.LocalID)
	if err != nil {
		return nil, &globalid.MalformedIDError{Raw: nodeID}
	}

	item, err := s.content.GetFromID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return []Feature{}, nil
	}
	return s.builder.BuildFeatures(ctx, s.content.FeaturesForItem(item))
}
