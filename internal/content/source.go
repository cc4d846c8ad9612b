// Package content reads content items from the upstream system and resolves
// each row to its concrete API type. All queries are expressed as cursors so
// callers decide pagination and when I/O happens.
package content

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parishlabs/steeple/internal/auth"
	"github.com/parishlabs/steeple/internal/config"
	"github.com/parishlabs/steeple/internal/rock"
)

const (
	// TypeUniversal is the fallback concrete type for content items.
	TypeUniversal  = "UniversalContentItem"
	TypeDevotional = "DevotionalContentItem"
	TypeWeekend    = "WeekendContentItem"
	TypeMedia      = "MediaContentItem"
	TypeSeries     = "ContentSeriesContentItem"

	personaAttributeKey = "Personas"
)

var errMissingRockClient = errors.New("content: rock client is required")

// InteractionReader supplies the current person's interactions without
// coupling this package to the tracker that records them.
type InteractionReader interface {
	InteractionsForCurrentUser(ctx context.Context, actions []string) ([]rock.Record, error)
	InteractionsForCurrentUserAndNodes(ctx context.Context, nodeIDs, actions []string) ([]rock.Record, error)
}

// Image is a resolved cover image reference.
type Image struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// SourceConfig describes the dependencies of the content source.
type SourceConfig struct {
	Rock    *rock.Client
	Content config.ContentConfig
	// UsePlugin enables the upstream helper endpoints installed by the app
	// plugin (persona matching, batched lookups).
	UsePlugin bool
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Source queries upstream content items.
type Source struct {
	rock         *rock.Client
	cfg          config.ContentConfig
	usePlugin    bool
	clock        func() time.Time
	logger       *zap.Logger
	interactions InteractionReader
}

// NewSource constructs the content source with validated configuration.
func NewSource(cfg SourceConfig) (*Source, error) {
	if cfg.Rock == nil {
		return nil, errMissingRockClient
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		rock:      cfg.Rock,
		cfg:       cfg.Content,
		usePlugin: cfg.UsePlugin,
		clock:     clock,
		logger:    logger,
	}, nil
}

// BindInteractions wires the interaction reader after construction; the
// tracker and this source reference each other at the service layer.
func (s *Source) BindInteractions(reader InteractionReader) {
	s.interactions = reader
}

// LiveContentFilter restricts a cursor to approved content inside its
// publication window.
func (s *Source) LiveContentFilter() string {
	now := s.clock().UTC().Format("2006-01-02T15:04:05")
	return fmt.Sprintf("((StartDateTime lt datetime'%s') and ((ExpireDateTime gt datetime'%s') or (ExpireDateTime eq null))) and (Status eq 'Approved')", now, now)
}

// ByContentChannelID returns a cursor over the items of one channel.
func (s *Source) ByContentChannelID(channelID int) *rock.Cursor {
	return s.rock.Request("ContentChannelItems").
		Filter(fmt.Sprintf("ContentChannelId eq %d", channelID)).
		AndFilter(s.LiveContentFilter()).
		OrderBy("Order", "asc")
}

// ByContentChannelIDs returns a cursor over the items of several channels.
// No channels means no query.
func (s *Source) ByContentChannelIDs(channelIDs []int) *rock.Cursor {
	if len(channelIDs) == 0 {
		return rock.Empty()
	}
	predicates := make([]string, 0, len(channelIDs))
	for _, channelID := range channelIDs {
		predicates = append(predicates, fmt.Sprintf("ContentChannelId eq %d", channelID))
	}
	return s.rock.Request("ContentChannelItems").
		FilterOneOf(predicates).
		AndFilter(s.LiveContentFilter()).
		OrderBy("Order", "asc")
}

// GetFromID loads a single content item.
func (s *Source) GetFromID(ctx context.Context, itemID int) (rock.Record, error) {
	return s.rock.Request("ContentChannelItems").
		Filter(fmt.Sprintf("Id eq %d", itemID)).
		Expand("ContentChannel").
		First(ctx)
}

// SermonFeed returns the sermon channel's items, newest first.
func (s *Source) SermonFeed() *rock.Cursor {
	if s.cfg.SermonChannelID == 0 {
		return rock.Empty()
	}
	return s.ByContentChannelID(s.cfg.SermonChannelID).OrderBy("StartDateTime", "desc")
}

// CursorByParentContentItemID returns a cursor over an item's children in
// association order. An item without children yields the empty cursor.
func (s *Source) CursorByParentContentItemID(ctx context.Context, itemID int) (*rock.Cursor, error) {
	associations, err := s.rock.Request("ContentChannelItemAssociations").
		Filter(fmt.Sprintf("ContentChannelItemId eq %d", itemID)).
		OrderBy("Order", "asc").
		Cache(time.Minute).
		Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.cursorForAssociatedIDs(associations, "ChildContentChannelItemId"), nil
}

// CursorByChildContentItemID returns a cursor over an item's parents.
func (s *Source) CursorByChildContentItemID(ctx context.Context, itemID int) (*rock.Cursor, error) {
	associations, err := s.rock.Request("ContentChannelItemAssociations").
		Filter(fmt.Sprintf("ChildContentChannelItemId eq %d", itemID)).
		Cache(time.Minute).
		Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.cursorForAssociatedIDs(associations, "ContentChannelItemId"), nil
}

func (s *Source) cursorForAssociatedIDs(associations []rock.Record, field string) *rock.Cursor {
	if len(associations) == 0 {
		return rock.Empty()
	}
	predicates := make([]string, 0, len(associations))
	for _, association := range associations {
		predicates = append(predicates, fmt.Sprintf("Id eq %d", association.Int(field)))
	}
	return s.rock.Request("ContentChannelItems").
		FilterOneOf(predicates).
		AndFilter(s.LiveContentFilter())
}

// PersonaFeed returns items matched to the current person's personas. The
// persona match needs the upstream plugin; without it, or for an anonymous
// caller, the feed is empty.
func (s *Source) PersonaFeed(ctx context.Context) (*rock.Cursor, error) {
	person, err := auth.CurrentPerson(ctx)
	if err != nil {
		return rock.Empty(), nil
	}
	if !s.usePlugin {
		s.logger.Warn("persona feed requires the upstream plugin; returning empty feed")
		return rock.Empty(), nil
	}

	personas, err := s.rock.Request(fmt.Sprintf("Apollos/GetPersistedDataViewsForEntity/%d", person.ID)).
		Filter(fmt.Sprintf("CategoryId eq %d", s.cfg.PersonaDataViewCategory)).
		Cache(10 * time.Minute).
		Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(personas) == 0 {
		return rock.Empty(), nil
	}

	guids := make([]string, 0, len(personas))
	for _, persona := range personas {
		if guid := persona.String("Guid"); guid != "" {
			guids = append(guids, guid)
		}
	}

	resource := fmt.Sprintf("Apollos/ContentChannelItemsByAttributeValue?attributeKey=%s&attributeValues=%s",
		personaAttributeKey, strings.Join(guids, ","))
	return s.rock.Request(resource).AndFilter(s.LiveContentFilter()), nil
}

// SeriesWithUserProgress returns series the current person has started but
// not finished, most recently started first.
func (s *Source) SeriesWithUserProgress(ctx context.Context, channelIDs []int) (*rock.Cursor, error) {
	if s.interactions == nil {
		return rock.Empty(), nil
	}
	started, err := s.interactions.InteractionsForCurrentUser(ctx, []string{"SERIES_START"})
	if err != nil {
		return nil, err
	}
	if len(started) == 0 {
		return rock.Empty(), nil
	}

	seriesIDs := make([]int, 0, len(started))
	seen := map[int]bool{}
	for _, interaction := range started {
		seriesID, ok := s.seriesIDFromInteraction(interaction)
		if !ok || seen[seriesID] {
			continue
		}
		seen[seriesID] = true
		finished, err := s.seriesFinished(ctx, seriesID)
		if err != nil {
			return nil, err
		}
		if !finished {
			seriesIDs = append(seriesIDs, seriesID)
		}
	}
	if len(seriesIDs) == 0 {
		return rock.Empty(), nil
	}

	predicates := make([]string, 0, len(seriesIDs))
	for _, seriesID := range seriesIDs {
		predicates = append(predicates, fmt.Sprintf("Id eq %d", seriesID))
	}
	cursor := s.rock.Request("ContentChannelItems").
		FilterOneOf(predicates).
		AndFilter(s.LiveContentFilter()).
		OrderBy("StartDateTime", "desc")
	if len(channelIDs) > 0 {
		channelPredicates := make([]string, 0, len(channelIDs))
		for _, channelID := range channelIDs {
			channelPredicates = append(channelPredicates, fmt.Sprintf("ContentChannelId eq %d", channelID))
		}
		cursor = cursor.FilterOneOf(channelPredicates)
	}
	return cursor, nil
}

func (s *Source) seriesFinished(ctx context.Context, seriesID int) (bool, error) {
	childCursor, err := s.CursorByParentContentItemID(ctx, seriesID)
	if err != nil {
		return false, err
	}
	children, err := childCursor.Get(ctx)
	if err != nil {
		return false, err
	}
	if len(children) == 0 {
		return true, nil
	}

	nodeIDs := make([]string, 0, len(children))
	for _, child := range children {
		nodeIDs = append(nodeIDs, s.NodeID(child))
	}
	completed, err := s.interactions.InteractionsForCurrentUserAndNodes(ctx, nodeIDs, []string{"COMPLETE"})
	if err != nil {
		return false, err
	}

	// Upstream stores the child's local id in ForeignKey.
	completedKeys := map[string]bool{}
	for _, interaction := range completed {
		completedKeys[interaction.String("ForeignKey")] = true
	}
	for _, child := range children {
		if !completedKeys[child.ID()] {
			return false, nil
		}
	}
	return true, nil
}

// seriesIDFromInteraction recovers the series id a series-start interaction
// was recorded against.
func (s *Source) seriesIDFromInteraction(interaction rock.Record) (int, bool) {
	foreignKey := interaction.String("ForeignKey")
	if foreignKey == "" {
		return 0, false
	}
	seriesID, err := strconv.Atoi(foreignKey)
	if err != nil {
		return 0, false
	}
	return seriesID, true
}
