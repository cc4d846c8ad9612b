package feeds

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parishlabs/steeple/internal/config"
	"github.com/parishlabs/steeple/internal/content"
	"github.com/parishlabs/steeple/internal/events"
	"github.com/parishlabs/steeple/internal/globalid"
	"github.com/parishlabs/steeple/internal/prayer"
	"github.com/parishlabs/steeple/internal/rock"
)

// Algorithm names understood by the registry. CONTENT_CHANNEL and USER_FEED
// survive for configurations that predate CONTENT_FEED.
const (
	AlgorithmContentFeed          = "CONTENT_FEED"
	AlgorithmPersonaFeed          = "PERSONA_FEED"
	AlgorithmContentChannel       = "CONTENT_CHANNEL"
	AlgorithmUserFeed             = "USER_FEED"
	AlgorithmSermonChildren       = "SERMON_CHILDREN"
	AlgorithmLatestSeriesChildren = "LATEST_SERIES_CHILDREN"
	AlgorithmUpcomingEvents       = "UPCOMING_EVENTS"
	AlgorithmCampaignItems        = "CAMPAIGN_ITEMS"
	AlgorithmSeriesInProgress     = "SERIES_IN_PROGRESS"
	AlgorithmDailyPrayer          = "DAILY_PRAYER"
)

// UnknownAlgorithmError indicates a feature definition names an algorithm the
// registry does not know. Configuration errors fail loudly rather than
// degrading into empty features.
type UnknownAlgorithmError struct {
	Name string
}

func (e *UnknownAlgorithmError) Error() string {
	return fmt.Sprintf("feeds: unknown action algorithm %q", e.Name)
}

// ConfigurationError indicates a strict algorithm is missing a required
// argument.
type ConfigurationError struct {
	Algorithm string
	Argument  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("feeds: algorithm %s requires argument %q", e.Algorithm, e.Argument)
}

// Result is one registry run: a flattened action list plus whether any
// contributing algorithm was personalized and must never be shared across
// users.
type Result struct {
	Actions []Action
	Private bool
}

// RegistryConfig describes the dependencies of the algorithm registry.
type RegistryConfig struct {
	Content *content.Source
	Events  *events.Source
	Prayers *prayer.Service
	Config  config.ContentConfig
	Logger  *zap.Logger
}

// Registry maps algorithm names onto their implementations through an
// explicit dispatch table.
type Registry struct {
	content *content.Source
	events  *events.Source
	prayers *prayer.Service
	cfg     config.ContentConfig
	logger  *zap.Logger
}

// NewRegistry constructs the registry with validated configuration.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Content == nil {
		return nil, errors.New("feeds: content source is required")
	}
	if cfg.Events == nil {
		return nil, errors.New("feeds: event source is required")
	}
	if cfg.Prayers == nil {
		return nil, errors.New("feeds: prayer service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		content: cfg.Content,
		events:  cfg.Events,
		prayers: cfg.Prayers,
		cfg:     cfg.Config,
		logger:  logger,
	}, nil
}

// Run executes the referenced algorithms concurrently and flattens their
// outputs in request order. Algorithms are independent reads, so fan-out is
// safe; ordering of the combined list follows the reference order, not
// completion order.
func (r *Registry) Run(ctx context.Context, refs []config.AlgorithmRef) (Result, error) {
	actionLists := make([][]Action, len(refs))
	privateFlags := make([]bool, len(refs))

	group, groupCtx := errgroup.WithContext(ctx)
	for index, ref := range refs {
		group.Go(func() error {
			actions, private, err := r.runOne(groupCtx, ref)
			if err != nil {
				return err
			}
			actionLists[index] = actions
			privateFlags[index] = private
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Result{}, err
	}

	result := Result{Actions: []Action{}}
	for index, actions := range actionLists {
		result.Actions = append(result.Actions, actions...)
		result.Private = result.Private || privateFlags[index]
	}
	return result, nil
}

func (r *Registry) runOne(ctx context.Context, ref config.AlgorithmRef) ([]Action, bool, error) {
	args := arguments(ref.Arguments)
	switch ref.Type {
	case AlgorithmContentFeed:
		actions, err := r.contentFeed(ctx, args)
		return actions, false, err
	case AlgorithmPersonaFeed:
		actions, err := r.personaFeed(ctx)
		return actions, true, err
	case AlgorithmContentChannel:
		actions, err := r.contentChannel(ctx, args)
		return actions, false, err
	case AlgorithmUserFeed:
		actions, err := r.userFeed(ctx, args)
		return actions, false, err
	case AlgorithmSermonChildren:
		actions, err := r.sermonChildren(ctx, args)
		return actions, false, err
	case AlgorithmLatestSeriesChildren:
		actions, err := r.latestSeriesChildren(ctx, args)
		return actions, false, err
	case AlgorithmUpcomingEvents:
		actions, err := r.upcomingEvents(ctx)
		return actions, false, err
	case AlgorithmCampaignItems:
		actions, err := r.campaignItems(ctx, args)
		return actions, false, err
	case AlgorithmSeriesInProgress:
		actions, err := r.seriesInProgress(ctx, args)
		return actions, true, err
	case AlgorithmDailyPrayer:
		actions, err := r.dailyPrayer(ctx, args)
		return actions, true, err
	default:
		return nil, false, &UnknownAlgorithmError{Name: ref.Type}
	}
}

// contentFeed pages content items scoped to the given channels in upstream
// default order.
func (r *Registry) contentFeed(ctx context.Context, args arguments) ([]Action, error) {
	items, err := r.content.ByContentChannelIDs(args.ints("channelIds")).
		Expand("ContentChannel").
		Top(args.intOr("limit", 20)).
		Skip(args.intOr("skip", 0)).
		Get(ctx)
	if err != nil {
		return nil, err
	}
	return r.actionsForItems(items), nil
}

// personaFeed returns the top items matched to the current person's personas.
func (r *Registry) personaFeed(ctx context.Context) ([]Action, error) {
	cursor, err := r.content.PersonaFeed(ctx)
	if err != nil {
		return nil, err
	}
	items, err := cursor.Expand("ContentChannel").Top(3).Get(ctx)
	if err != nil {
		return nil, err
	}
	return r.actionsForItems(items), nil
}

// contentChannel is the strict deprecated predecessor of contentFeed: a
// missing channel id is a configuration error, not an empty result.
func (r *Registry) contentChannel(ctx context.Context, args arguments) ([]Action, error) {
	r.logger.Warn("CONTENT_CHANNEL algorithm is deprecated, use CONTENT_FEED")
	channelID, ok := args.lookupInt("contentChannelId")
	if !ok {
		return nil, &ConfigurationError{Algorithm: AlgorithmContentChannel, Argument: "contentChannelId"}
	}

	cursor := r.content.ByContentChannelID(channelID).Expand("ContentChannel")
	if limit, ok := args.lookupInt("limit"); ok {
		cursor = cursor.Top(limit)
	}
	items, err := cursor.Get(ctx)
	if err != nil {
		return nil, err
	}
	return r.actionsForItems(items), nil
}

func (r *Registry) userFeed(ctx context.Context, args arguments) ([]Action, error) {
	r.logger.Warn("USER_FEED algorithm is deprecated, use CONTENT_FEED")
	items, err := r.content.ByContentChannelIDs(r.cfg.FeedChannelIDs).
		Expand("ContentChannel").
		Top(args.intOr("limit", 20)).
		Get(ctx)
	if err != nil {
		return nil, err
	}
	return r.actionsForItems(items), nil
}

// sermonChildren returns the children of the most recently published sermon,
// or nothing when no sermon exists.
func (r *Registry) sermonChildren(ctx context.Context, args arguments) ([]Action, error) {
	sermon, err := r.content.SermonFeed().First(ctx)
	if err != nil {
		return nil, err
	}
	if sermon == nil {
		return []Action{}, nil
	}

	cursor, err := r.content.CursorByParentContentItemID(ctx, sermon.Int("Id"))
	if err != nil {
		return nil, err
	}
	cursor = cursor.Expand("ContentChannel")
	if limit, ok := args.lookupInt("limit"); ok {
		cursor = cursor.Top(limit)
	}
	items, err := cursor.Get(ctx)
	if err != nil {
		return nil, err
	}
	return r.actionsForItems(items), nil
}

// latestSeriesChildren returns the children of the most recent live series in
// a channel. A missing channel id yields an empty result.
func (r *Registry) latestSeriesChildren(ctx context.Context, args arguments) ([]Action, error) {
	channelID, ok := args.lookupInt("channelId")
	if !ok {
		r.logger.Warn("LATEST_SERIES_CHILDREN requires a channelId argument")
		return []Action{}, nil
	}

	series, err := r.content.ByContentChannelID(channelID).
		AndFilter(r.content.LiveContentFilter()).
		First(ctx)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return []Action{}, nil
	}

	cursor, err := r.content.CursorByParentContentItemID(ctx, series.Int("Id"))
	if err != nil {
		return nil, err
	}
	cursor = cursor.Expand("ContentChannel").OrderBy("StartDateTime", "desc")
	if limit, ok := args.lookupInt("limit"); ok {
		cursor = cursor.Top(limit)
	}
	items, err := cursor.Get(ctx)
	if err != nil {
		return nil, err
	}
	return r.actionsForItems(items), nil
}

// upcomingEvents returns the next three future events.
func (r *Registry) upcomingEvents(ctx context.Context) ([]Action, error) {
	occurrences, err := r.events.FindRecent().Top(3).Get(ctx)
	if err != nil {
		return nil, err
	}

	actions := make([]Action, 0, len(occurrences))
	for position, occurrence := range occurrences {
		action := Action{
			ID:       actionID(occurrence.ID(), position),
			Title:    events.Name(occurrence),
			Subtitle: events.StartTime(occurrence),
			RelatedNode: &RelatedNode{
				ID:       globalid.Encode(occurrence.ID(), "Event"),
				TypeName: "Event",
				Record:   occurrence,
			},
			Action: ActionReadContent,
		}
		if imageURL := events.ImageURL(occurrence); imageURL != "" {
			action.Image = &content.Image{URL: imageURL}
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// campaignItems returns up to limit children of each campaign channel,
// overriding each action's subtitle with its parent's title.
func (r *Registry) campaignItems(ctx context.Context, args arguments) ([]Action, error) {
	channelIDs := args.ints("channelIds")
	if len(channelIDs) == 0 {
		channelIDs = r.cfg.CampaignChannelIDs
	}
	limit := args.intOr("limit", 1)

	channels, err := r.content.ByContentChannelIDs(channelIDs).Get(ctx)
	if err != nil {
		return nil, err
	}

	type annotated struct {
		item        rock.Record
		parentTitle string
	}
	items := []annotated{}
	for _, channel := range channels {
		cursor, err := r.content.CursorByParentContentItemID(ctx, channel.Int("Id"))
		if err != nil {
			return nil, err
		}
		children, err := cursor.Top(limit).Expand("ContentChannel").Get(ctx)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			items = append(items, annotated{item: child, parentTitle: channel.String("Title")})
		}
	}

	actions := make([]Action, 0, len(items))
	for position, entry := range items {
		action := r.actionForItem(entry.item, position)
		action.Subtitle = entry.parentTitle
		actions = append(actions, action)
	}
	return actions, nil
}

// seriesInProgress returns series the person has started but not finished.
// With nothing in progress it emits a single synthetic empty-state card.
func (r *Registry) seriesInProgress(ctx context.Context, args arguments) ([]Action, error) {
	cursor, err := r.content.SeriesWithUserProgress(ctx, args.ints("channelIds"))
	if err != nil {
		return nil, err
	}
	items, err := cursor.Expand("ContentChannel").Top(args.intOr("limit", 3)).Get(ctx)
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return []Action{{
			ID: EmptyCardID,
			RelatedNode: &RelatedNode{
				TypeName: "Message",
				Message:  args.stringOr("emptyMessage", "All caught up!"),
			},
		}}, nil
	}
	return r.actionsForItems(items), nil
}

// dailyPrayer returns the prayers eligible for the daily rotation,
// deduplicated by requester: the first request per requester wins and the
// original relative order is preserved.
func (r *Registry) dailyPrayer(ctx context.Context, args arguments) ([]Action, error) {
	requests, err := r.prayers.ByDailyPrayerFeed(ctx, prayer.DailyFeedArgs{
		NumberDaysSincePrayer: args.intOr("numberDaysSincePrayer", 0),
		PersonID:              args.intOr("personId", 0),
		Limit:                 args.intOr("limit", 10),
	})
	if err != nil {
		return nil, err
	}

	actions := []Action{}
	for _, request := range dedupeByRequester(requests) {
		actions = append(actions, Action{
			ID:      actionID(request.ID, len(actions)),
			Summary: request.Text,
			RelatedNode: &RelatedNode{
				ID:       globalid.Encode(request.ID, "PrayerRequest"),
				TypeName: "PrayerRequest",
			},
		})
	}
	return actions, nil
}

// dedupeByRequester keeps the first request per requester, preserving the
// incoming order.
func dedupeByRequester(requests []prayer.PrayerRequest) []prayer.PrayerRequest {
	seen := map[int]bool{}
	deduped := []prayer.PrayerRequest{}
	for _, request := range requests {
		if seen[request.RequestedByPersonAliasID] {
			continue
		}
		seen[request.RequestedByPersonAliasID] = true
		deduped = append(deduped, request)
	}
	return deduped
}

func (r *Registry) actionsForItems(items []rock.Record) []Action {
	actions := make([]Action, 0, len(items))
	for position, item := range items {
		actions = append(actions, r.actionForItem(item, position))
	}
	return actions
}

func (r *Registry) actionForItem(item rock.Record, position int) Action {
	return Action{
		ID:       actionID(item.ID(), position),
		Title:    item.String("Title"),
		Subtitle: content.ChannelName(item),
		RelatedNode: &RelatedNode{
			ID:       r.content.NodeID(item),
			TypeName: r.content.ResolveType(item),
			Record:   item,
		},
		Image:   r.content.CoverImage(item),
		Action:  ActionReadContent,
		Summary: r.content.Summary(item),
	}
}

// arguments wraps the loosely typed argument maps carried by feature
// definitions. Config files and JSON both surface numbers as float64.
type arguments map[string]any

func (a arguments) lookupInt(name string) (int, bool) {
	switch value := a[name].(type) {
	case int:
		return value, true
	case int64:
		return int(value), true
	case float64:
		return int(value), true
	default:
		return 0, false
	}
}

func (a arguments) intOr(name string, fallback int) int {
	if value, ok := a.lookupInt(name); ok {
		return value
	}
	return fallback
}

func (a arguments) ints(name string) []int {
	raw, ok := a[name].([]any)
	if !ok {
		if typed, ok := a[name].([]int); ok {
			return typed
		}
		return nil
	}
	values := make([]int, 0, len(raw))
	for _, element := range raw {
		switch value := element.(type) {
		case int:
			values = append(values, value)
		case int64:
			values = append(values, int(value))
		case float64:
			values = append(values, int(value))
		}
	}
	return values
}

func (a arguments) stringOr(name, fallback string) string {
	if value, ok := a[name].(string); ok && value != "" {
		return value
	}
	return fallback
}
