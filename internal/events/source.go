// Package events reads upcoming event occurrences from the upstream system.
package events

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parishlabs/steeple/internal/rock"
)

var errMissingRockClient = errors.New("events: rock client is required")

// SourceConfig describes the dependencies of the event source.
type SourceConfig struct {
	Rock   *rock.Client
	Clock  func() time.Time
	Logger *zap.Logger
}

// Source queries upstream event occurrences.
type Source struct {
	rock   *rock.Client
	clock  func() time.Time
	logger *zap.Logger
}

// NewSource constructs the event source with validated configuration.
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
	return &Source{rock: cfg.Rock, clock: clock, logger: logger}, nil
}

// FindRecent returns a cursor over future event occurrences, soonest first.
func (s *Source) FindRecent() *rock.Cursor {
	now := s.clock().UTC().Format("2006-01-02T15:04:05")
	return s.rock.Request("EventItemOccurrences").
		Filter(fmt.Sprintf("Schedule/EffectiveStartDate ge datetime'%s'", now)).
		Expand("Schedule").
		Expand("EventItem").
		Expand("EventItem/Photo").
		OrderBy("Schedule/EffectiveStartDate", "asc")
}

// Name returns the occurrence's display name.
func Name(occurrence rock.Record) string {
	if item := occurrence.Child("EventItem"); item != nil {
		return item.String("Name")
	}
	return occurrence.String("Name")
}

// StartTime returns the occurrence's effective start, or "" when unset.
func StartTime(occurrence rock.Record) string {
	if schedule := occurrence.Child("Schedule"); schedule != nil {
		return schedule.String("EffectiveStartDate")
	}
	return ""
}

// ImageURL returns the event's photo url, when present.
func ImageURL(occurrence rock.Record) string {
	if item := occurrence.Child("EventItem"); item != nil {
		if photo := item.Child("Photo"); photo != nil {
			return photo.String("Url")
		}
	}
	return ""
}
