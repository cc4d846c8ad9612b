// Package campuses reads campus records from the upstream system and orders
// them by distance from the caller.
package campuses

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/parishlabs/steeple/internal/auth"
	"github.com/parishlabs/steeple/internal/rock"
)

const (
	campusCacheTTL = 10 * time.Minute
	// Beyond this distance (miles) every physical campus is considered far
	// enough that online campuses lead the list.
	nearbyThresholdMiles = 50

	earthRadiusMiles = 3958.8
)

var errMissingRockClient = errors.New("campuses: rock client is required")

// Campus is a resolved campus row with optional caller distance.
type Campus struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
	Street     string  `json:"street,omitempty"`
	City       string  `json:"city,omitempty"`
	State      string  `json:"state,omitempty"`
	PostalCode string  `json:"postalCode,omitempty"`
	IsOnline   bool    `json:"isOnline"`
	// DistanceMiles is set only by ByLocation.
	DistanceMiles float64 `json:"distanceMiles,omitempty"`
}

// SourceConfig describes the dependencies of the campus source.
type SourceConfig struct {
	Rock   *rock.Client
	Logger *zap.Logger
}

// Source queries upstream campuses.
type Source struct {
	rock   *rock.Client
	logger *zap.Logger
}

// NewSource constructs the campus source with validated configuration.
func NewSource(cfg SourceConfig) (*Source, error) {
	if cfg.Rock == nil {
		return nil, errMissingRockClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{rock: cfg.Rock, logger: logger}, nil
}

// GetAll returns every active campus. Results are cached briefly; campus
// lists change rarely and back every location lookup.
func (s *Source) GetAll(ctx context.Context) ([]Campus, error) {
	records, err := s.rock.Request("Campuses").
		Filter("IsActive eq true").
		Expand("Location").
		Expand("CampusTypeValue").
		Cache(campusCacheTTL).
		Get(ctx)
	if err != nil {
		return nil, err
	}

	campuses := make([]Campus, 0, len(records))
	for _, record := range records {
		campuses = append(campuses, fromRecord(record))
	}
	return campuses, nil
}

// GetFromID loads a single campus.
func (s *Source) GetFromID(ctx context.Context, campusID int) (*Campus, error) {
	record, err := s.rock.Request("Campuses").
		Filter(fmt.Sprintf("Id eq %d", campusID)).
		Expand("Location").
		Expand("CampusTypeValue").
		First(ctx)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	campus := fromRecord(record)
	return &campus, nil
}

// ByLocation returns campuses ordered by distance from the caller. Online
// campuses trail the list when a physical campus is nearby and lead it when
// none is.
func (s *Source) ByLocation(ctx context.Context, latitude, longitude float64) ([]Campus, error) {
	campuses, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	physical := make([]Campus, 0, len(campuses))
	online := make([]Campus, 0)
	for _, campus := range campuses {
		if campus.IsOnline {
			online = append(online, campus)
			continue
		}
		campus.DistanceMiles = haversineMiles(latitude, longitude, campus.Latitude, campus.Longitude)
		physical = append(physical, campus)
	}

	sort.Slice(physical, func(i, j int) bool {
		return physical[i].DistanceMiles < physical[j].DistanceMiles
	})

	allFar := true
	for _, campus := range physical {
		if campus.DistanceMiles <= nearbyThresholdMiles {
			allFar = false
			break
		}
	}

	if allFar {
		return append(online, physical...), nil
	}
	return append(physical, online...), nil
}

// ForPerson returns the campus of the person's family, or nil when unset.
func (s *Source) ForPerson(ctx context.Context, personID int) (*Campus, error) {
	family, err := s.rock.Request(fmt.Sprintf("Groups/GetFamilies/%d", personID)).
		Expand("Campus").
		Expand("Campus/Location").
		First(ctx)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, nil
	}
	campusRecord := family.Child("Campus")
	if campusRecord == nil || campusRecord.Child("Location") == nil {
		return nil, nil
	}
	campus := fromRecord(campusRecord)
	return &campus, nil
}

// UpdateCurrentUserCampus moves the current person's family to a campus.
func (s *Source) UpdateCurrentUserCampus(ctx context.Context, campusID int) error {
	person, err := auth.CurrentPerson(ctx)
	if err != nil {
		return err
	}

	family, err := s.rock.Request(fmt.Sprintf("Groups/GetFamilies/%d", person.ID)).First(ctx)
	if err != nil {
		return err
	}
	if family == nil {
		return fmt.Errorf("campuses: no family group for person %d", person.ID)
	}

	return s.rock.Patch(ctx, fmt.Sprintf("Groups/%d", family.Int("Id")), map[string]any{
		"CampusId": campusID,
	})
}

func fromRecord(record rock.Record) Campus {
	campus := Campus{
		ID:   record.Int("Id"),
		Name: record.String("Name"),
	}
	if campusType := record.Child("CampusTypeValue"); campusType != nil {
		campus.IsOnline = campusType.String("Value") == "Online"
	}
	if location := record.Child("Location"); location != nil {
		if value, ok := location["Latitude"].(float64); ok {
			campus.Latitude = value
		}
		if value, ok := location["Longitude"].(float64); ok {
			campus.Longitude = value
		}
		campus.Street = location.String("Street1")
		campus.City = location.String("City")
		campus.State = location.String("State")
		campus.PostalCode = location.String("PostalCode")
	}
	return campus
}

func haversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	toRadians := func(degrees float64) float64 { return degrees * math.Pi / 180 }

	deltaLat := toRadians(lat2 - lat1)
	deltaLon := toRadians(lon2 - lon1)
	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	return 2 * earthRadiusMiles * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
