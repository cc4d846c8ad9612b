// Package interactions records engagement actions (view, complete, pray) as
// upstream interaction rows and reads them back for the current person.
package interactions

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parishlabs/steeple/internal/auth"
	"github.com/parishlabs/steeple/internal/globalid"
	"github.com/parishlabs/steeple/internal/rock"
)

const (
	// ActionSeriesStart is recorded against a series when one of its children
	// is completed for the first time.
	ActionSeriesStart = "SERIES_START"
	ActionComplete    = "COMPLETE"
	ActionPray        = "PRAY"

	// Batched foreign-key lookups go out in chunks this size to keep the
	// upstream query string bounded.
	foreignKeyChunkSize = 10

	interactionTimeFormat = "2006-01-02T15:04:05"
)

var errMissingRockClient = errors.New("interactions: rock client is required")

// ParentCursorSource finds the series items that contain a content item.
type ParentCursorSource interface {
	CursorByChildContentItemID(ctx context.Context, itemID int) (*rock.Cursor, error)
}

// PrayerCounter increments the prayed counter of a prayer request.
type PrayerCounter interface {
	IncrementPrayed(ctx context.Context, id string) error
}

// TrackerConfig describes the dependencies of the tracker.
type TrackerConfig struct {
	Rock      *rock.Client
	Constants *rock.Constants
	Parents   ParentCursorSource
	Prayers   PrayerCounter
	// ContentTypeNames lists the node types that stand for content items.
	// Completing one of these marks its parent series as started.
	ContentTypeNames []string
	UsePlugin        bool
	Clock            func() time.Time
	Logger           *zap.Logger
}

// Tracker records and reads interactions for the authenticated person.
type Tracker struct {
	rock         *rock.Client
	constants    *rock.Constants
	parents      ParentCursorSource
	prayers      PrayerCounter
	contentTypes map[string]bool
	usePlugin    bool
	clock        func() time.Time
	logger       *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker constructs the tracker with validated configuration.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Rock == nil {
		return nil, errMissingRockClient
	}
	if cfg.Constants == nil {
		return nil, errors.New("interactions: constants service is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	contentTypes := make(map[string]bool, len(cfg.ContentTypeNames))
	for _, name := range cfg.ContentTypeNames {
		contentTypes[name] = true
	}
	return &Tracker{
		rock:         cfg.Rock,
		constants:    cfg.Constants,
		parents:      cfg.Parents,
		prayers:      cfg.Prayers,
		contentTypes: contentTypes,
		usePlugin:    cfg.UsePlugin,
		clock:        clock,
		logger:       logger,
		locks:        map[string]*sync.Mutex{},
	}, nil
}

// CreateNodeInteraction records an action against a node for the current
// person and applies any follow-on effects the action triggers. Follow-on
// failures are logged, never surfaced: the primary interaction already stuck.
func (t *Tracker) CreateNodeInteraction(ctx context.Context, opaqueID, action string) error {
	person, err := auth.CurrentPerson(ctx)
	if err != nil {
		return err
	}
	node, err := globalid.Decode(opaqueID)
	if err != nil {
		return err
	}

	if err := t.record(ctx, person, node, action); err != nil {
		return err
	}

	t.applyFollowOnEffects(ctx, person, node, action)
	return nil
}

// InteractionsForCurrentUser returns the person's interactions matching any
// of the given actions, newest first. Anonymous callers get an empty slice.
func (t *Tracker) InteractionsForCurrentUser(ctx context.Context, actions []string) ([]rock.Record, error) {
	person, err := auth.CurrentPerson(ctx)
	if err != nil {
		return []rock.Record{}, nil
	}

	return t.rock.Request("Interactions").
		Filter(fmt.Sprintf("PersonAliasId eq %d", person.PrimaryAliasID)).
		FilterOneOf(actionPredicates(actions)).
		OrderBy("InteractionDateTime", "desc").
		Get(ctx)
}

// InteractionsForCurrentUserAndNodes returns the person's interactions
// against the given nodes matching any of the actions. Anonymous callers get
// an empty slice.
func (t *Tracker) InteractionsForCurrentUserAndNodes(ctx context.Context, nodeIDs, actions []string) ([]rock.Record, error) {
	person, err := auth.CurrentPerson(ctx)
	if err != nil {
		return []rock.Record{}, nil
	}

	foreignKeys := make([]string, 0, len(nodeIDs))
	for _, opaqueID := range nodeIDs {
		node, err := globalid.Decode(opaqueID)
		if err != nil {
			return nil, err
		}
		foreignKeys = append(foreignKeys, node.LocalID)
	}
	if len(foreignKeys) == 0 {
		return []rock.Record{}, nil
	}

	if t.usePlugin {
		return t.interactionsByForeignKeys(ctx, person, foreignKeys, actions)
	}

	results := []rock.Record{}
	for _, foreignKey := range foreignKeys {
		records, err := t.rock.Request("Interactions").
			Filter(fmt.Sprintf("PersonAliasId eq %d", person.PrimaryAliasID)).
			AndFilter(fmt.Sprintf("ForeignKey eq '%s'", foreignKey)).
			FilterOneOf(actionPredicates(actions)).
			Get(ctx)
		if err != nil {
			return nil, err
		}
		results = append(results, records...)
	}
	return results, nil
}

// interactionsByForeignKeys uses the plugin's batched lookup, chunking the
// keys so the query string stays within upstream limits.
func (t *Tracker) interactionsByForeignKeys(ctx context.Context, person auth.Person, foreignKeys, actions []string) ([]rock.Record, error) {
	results := []rock.Record{}
	for start := 0; start < len(foreignKeys); start += foreignKeyChunkSize {
		end := start + foreignKeyChunkSize
		if end > len(foreignKeys) {
			end = len(foreignKeys)
		}
		chunk := foreignKeys[start:end]

		resource := "Apollos/GetInteractionsByForeignKeys?keys=" + url.QueryEscape(strings.Join(chunk, ","))
		records, err := t.rock.Request(resource).
			Filter(fmt.Sprintf("PersonAliasId eq %d", person.PrimaryAliasID)).
			FilterOneOf(actionPredicates(actions)).
			Get(ctx)
		if err != nil {
			return nil, err
		}
		results = append(results, records...)
	}
	return results, nil
}

// record writes the interaction row, addressing it by entity type, component
// and foreign key.
func (t *Tracker) record(ctx context.Context, person auth.Person, node globalid.GlobalID, action string) error {
	entityType, err := t.constants.ModelType(ctx, node.TypeName)
	if err != nil {
		return err
	}

	// Non-numeric local ids (extension store rows) are addressed purely by
	// foreign key; the component entity id stays zero.
	entityID, _ := strconv.Atoi(node.LocalID)
	component, err := t.constants.InteractionComponent(ctx, entityType, entityID)
	if err != nil {
		return err
	}

	_, err = t.rock.Post(ctx, "Interactions", map[string]any{
		"InteractionComponentId": component.Int("Id"),
		"Operation":              action,
		"PersonAliasId":          person.PrimaryAliasID,
		"InteractionDateTime":    t.clock().UTC().Format(interactionTimeFormat),
		"ForeignKey":             node.LocalID,
	})
	return err
}

// applyFollowOnEffects runs the secondary effects an action triggers, one
// level deep. Each effect is serialized per (person, node, action) so
// concurrent duplicate requests cannot double-apply.
func (t *Tracker) applyFollowOnEffects(ctx context.Context, person auth.Person, node globalid.GlobalID, action string) {
	var effect func(context.Context, auth.Person, globalid.GlobalID) error
	switch {
	case t.contentTypes[node.TypeName] && action == ActionComplete:
		effect = t.markSeriesStarted
	case node.TypeName == "PrayerRequest" && action == ActionPray:
		effect = t.incrementPrayed
	default:
		return
	}

	unlock := t.lock(fmt.Sprintf("%d:%s:%s", person.ID, node.String(), action))
	defer unlock()

	if err := effect(ctx, person, node); err != nil {
		t.logger.Warn("follow-on interaction effect failed",
			zap.String("node", node.String()),
			zap.String("action", action),
			zap.Error(err))
	}
}

// markSeriesStarted records a series-start interaction against every series
// containing the completed item, skipping series already started.
func (t *Tracker) markSeriesStarted(ctx context.Context, person auth.Person, node globalid.GlobalID) error {
	if t.parents == nil {
		return nil
	}
	itemID, err := strconv.Atoi(node.LocalID)
	if err != nil {
		return fmt.Errorf("interactions: content item id %q is not numeric", node.LocalID)
	}

	cursor, err := t.parents.CursorByChildContentItemID(ctx, itemID)
	if err != nil {
		return err
	}
	parents, err := cursor.Get(ctx)
	if err != nil {
		return err
	}

	for _, parent := range parents {
		foreignKey := parent.ID()
		existing, err := t.rock.Request("Interactions").
			Filter(fmt.Sprintf("PersonAliasId eq %d", person.PrimaryAliasID)).
			AndFilter(fmt.Sprintf("Operation eq '%s'", ActionSeriesStart)).
			AndFilter(fmt.Sprintf("ForeignKey eq '%s'", foreignKey)).
			First(ctx)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		parentNode := globalid.GlobalID{LocalID: foreignKey, TypeName: node.TypeName}
		if err := t.record(ctx, person, parentNode, ActionSeriesStart); err != nil {
			return err
		}
		t.logger.Debug("marked series started",
			zap.String("series_id", foreignKey),
			zap.Int("person_id", person.ID))
	}
	return nil
}

func (t *Tracker) incrementPrayed(ctx context.Context, _ auth.Person, node globalid.GlobalID) error {
	if t.prayers == nil {
		return nil
	}
	return t.prayers.IncrementPrayed(ctx, node.LocalID)
}

// lock serializes callers sharing a key and returns the release function.
func (t *Tracker) lock(key string) func() {
	t.mu.Lock()
	entry, ok := t.locks[key]
	if !ok {
		entry = &sync.Mutex{}
		t.locks[key] = entry
	}
	t.mu.Unlock()

	entry.Lock()
	return entry.Unlock
}

func actionPredicates(actions []string) []string {
	predicates := make([]string, 0, len(actions))
	for _, action := range actions {
		predicates = append(predicates, fmt.Sprintf("Operation eq '%s'", action))
	}
	return predicates
}
