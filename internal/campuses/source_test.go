package campuses

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parishlabs/steeple/internal/rock"
)

// campusFixture serves three physical campuses around New York plus an online
// campus.
const campusFixture = `[
	{"Id": 1, "Name": "Manhattan",
	 "Location": {"Latitude": 40.7580, "Longitude": -73.9855, "City": "New York", "State": "NY"},
	 "CampusTypeValue": {"Value": "Physical"}},
	{"Id": 2, "Name": "Brooklyn",
	 "Location": {"Latitude": 40.6782, "Longitude": -73.9442, "City": "Brooklyn", "State": "NY"},
	 "CampusTypeValue": {"Value": "Physical"}},
	{"Id": 3, "Name": "Philadelphia",
	 "Location": {"Latitude": 39.9526, "Longitude": -75.1652, "City": "Philadelphia", "State": "PA"},
	 "CampusTypeValue": {"Value": "Physical"}},
	{"Id": 4, "Name": "Online", "CampusTypeValue": {"Value": "Online"}}
]`

func newTestSource(t *testing.T) *Source {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Campuses" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(campusFixture))
	}))
	t.Cleanup(upstream.Close)

	client, err := rock.NewClient(rock.ClientConfig{BaseURL: upstream.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	source, err := NewSource(SourceConfig{Rock: client})
	if err != nil {
		t.Fatalf("failed to build source: %v", err)
	}
	return source
}

func names(campuses []Campus) []string {
	out := make([]string, 0, len(campuses))
	for _, campus := range campuses {
		out = append(out, campus.Name)
	}
	return out
}

func TestByLocationOrdersByDistanceWithOnlineLast(t *testing.T) {
	source := newTestSource(t)

	// Caller in downtown Brooklyn: Brooklyn closest, online trails.
	campuses, err := source.ByLocation(context.Background(), 40.6930, -73.9900)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := names(campuses)
	want := []string{"Brooklyn", "Manhattan", "Philadelphia", "Online"}
	if len(got) != len(want) {
		t.Fatalf("expected %d campuses, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bad ordering: got %v, want %v", got, want)
		}
	}
	if campuses[0].DistanceMiles <= 0 || campuses[0].DistanceMiles > 5 {
		t.Fatalf("implausible distance for nearest campus: %f", campuses[0].DistanceMiles)
	}
}

func TestByLocationLeadsWithOnlineWhenEverythingIsFar(t *testing.T) {
	source := newTestSource(t)

	// Caller in Los Angeles: every physical campus is well past the
	// nearby threshold.
	campuses, err := source.ByLocation(context.Background(), 34.0522, -118.2437)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(campuses) != 4 {
		t.Fatalf("expected 4 campuses, got %v", names(campuses))
	}
	if campuses[0].Name != "Online" {
		t.Fatalf("expected online campus first, got %v", names(campuses))
	}
}

func TestGetFromIDParsesLocationAndType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"Id": 7, "Name": "Riverside",
			"Location": {"Latitude": 33.95, "Longitude": -117.39,
				"Street1": "1 Main St", "City": "Riverside", "State": "CA", "PostalCode": "92501"},
			"CampusTypeValue": {"Value": "Physical"}}]`))
	}))
	t.Cleanup(upstream.Close)

	client, err := rock.NewClient(rock.ClientConfig{BaseURL: upstream.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	source, err := NewSource(SourceConfig{Rock: client})
	if err != nil {
		t.Fatalf("failed to build source: %v", err)
	}

	campus, err := source.GetFromID(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if campus == nil {
		t.Fatal("expected a campus")
	}
	if campus.Name != "Riverside" || campus.City != "Riverside" || campus.PostalCode != "92501" {
		t.Fatalf("bad campus fields: %+v", campus)
	}
	if campus.IsOnline {
		t.Fatal("physical campus reported as online")
	}
}

func TestGetFromIDReturnsNilForUnknownCampus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(upstream.Close)

	client, err := rock.NewClient(rock.ClientConfig{BaseURL: upstream.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	source, err := NewSource(SourceConfig{Rock: client})
	if err != nil {
		t.Fatalf("failed to build source: %v", err)
	}

	campus, err := source.GetFromID(context.Background(), 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if campus != nil {
		t.Fatalf("expected nil campus, got %+v", campus)
	}
}
