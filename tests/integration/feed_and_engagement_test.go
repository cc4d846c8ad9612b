package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parishlabs/steeple/internal/auth"
	"github.com/parishlabs/steeple/internal/cache"
	"github.com/parishlabs/steeple/internal/campuses"
	"github.com/parishlabs/steeple/internal/config"
	"github.com/parishlabs/steeple/internal/content"
	"github.com/parishlabs/steeple/internal/database"
	"github.com/parishlabs/steeple/internal/events"
	"github.com/parishlabs/steeple/internal/feeds"
	"github.com/parishlabs/steeple/internal/follows"
	"github.com/parishlabs/steeple/internal/globalid"
	"github.com/parishlabs/steeple/internal/interactions"
	"github.com/parishlabs/steeple/internal/node"
	"github.com/parishlabs/steeple/internal/prayer"
	"github.com/parishlabs/steeple/internal/rock"
	"github.com/parishlabs/steeple/internal/server"
)

const (
	integrationUsername = "leah"
	integrationPassword = "hunter2"
	jsonContentType     = "application/json"
)

// churchStub fakes the upstream church-management API for the whole flow and
// remembers every interaction row written to it.
type churchStub struct {
	mu           sync.Mutex
	interactions []map[string]any
}

func (s *churchStub) operations(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, row := range s.interactions {
		if row["Operation"] == operation {
			count++
		}
	}
	return count
}

func (s *churchStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("$filter")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/Auth/Login":
			var creds map[string]string
			json.NewDecoder(r.Body).Decode(&creds)
			if creds["Username"] != integrationUsername || creds["Password"] != integrationPassword {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`true`))
		case r.URL.Path == "/UserLogins":
			w.Write([]byte(`[{"Id": 1, "UserName": "leah", "PersonId": 1}]`))
		case r.URL.Path == "/People/1":
			w.Write([]byte(`{"Id": 1, "PrimaryAliasId": 10, "FirstName": "Leah", "LastName": "Ortiz"}`))
		case r.URL.Path == "/EntityTypes":
			w.Write([]byte(`[{"Id": 512, "Name": "Rock.Model.ContentChannelItem", "FriendlyName": "Content Item"}]`))
		case r.URL.Path == "/InteractionChannels":
			w.Write([]byte(`[{"Id": 9, "Name": "Content Item Interactions"}]`))
		case r.URL.Path == "/InteractionComponents":
			w.Write([]byte(`[{"Id": 33}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/Interactions":
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			s.mu.Lock()
			s.interactions = append(s.interactions, payload)
			s.mu.Unlock()
			w.Write([]byte(`"77"`))
		case r.URL.Path == "/Interactions":
			// Series-start existence check: nothing recorded before the flow.
			w.Write([]byte(`[]`))
		case r.URL.Path == "/ContentChannelItemAssociations" && strings.Contains(filter, "ChildContentChannelItemId eq 31"):
			w.Write([]byte(`[{"ContentChannelItemId": 42}]`))
		case r.URL.Path == "/ContentChannelItems" && strings.Contains(filter, "Id eq 42"):
			w.Write([]byte(`[{"Id": 42, "Title": "Faith Over Fear"}]`))
		case r.URL.Path == "/ContentChannelItems":
			w.Write([]byte(`[{"Id": 31, "Title": "Sunday Gathering", "ContentChannelId": 3,
				"ContentChannel": {"Name": "Messages"}}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}
}

func TestFeedAndEngagementFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	stub := &churchStub{}
	upstream := httptest.NewServer(stub.handler())
	defer upstream.Close()

	client, err := rock.NewClient(rock.ClientConfig{BaseURL: upstream.URL, Token: "integration-token"})
	if err != nil {
		testContext.Fatalf("failed to build client: %v", err)
	}
	constants, err := rock.NewConstants(rock.ConstantsConfig{
		Client: client,
		ModelNames: map[string]string{
			"ContentItem":   "Rock.Model.ContentChannelItem",
			"PrayerRequest": "Rock.Model.PrayerRequest",
		},
	})
	if err != nil {
		testContext.Fatalf("failed to build constants: %v", err)
	}

	db, err := database.Open("file:integration?mode=memory&cache=shared", zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	store := cache.NewStore()

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte("integration-secret")})
	authService, err := auth.NewService(auth.ServiceConfig{Rock: client, Tokens: issuer, Cache: store})
	if err != nil {
		testContext.Fatalf("failed to build auth service: %v", err)
	}
	followService, err := follows.NewService(follows.ServiceConfig{Database: db, Cache: store, Constants: constants})
	if err != nil {
		testContext.Fatalf("failed to build follow service: %v", err)
	}
	prayerService, err := prayer.NewService(prayer.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build prayer service: %v", err)
	}
	contentSource, err := content.NewSource(content.SourceConfig{Rock: client, Content: config.ContentConfig{}})
	if err != nil {
		testContext.Fatalf("failed to build content source: %v", err)
	}
	eventSource, err := events.NewSource(events.SourceConfig{Rock: client})
	if err != nil {
		testContext.Fatalf("failed to build event source: %v", err)
	}
	tracker, err := interactions.NewTracker(interactions.TrackerConfig{
		Rock:             client,
		Constants:        constants,
		Parents:          contentSource,
		Prayers:          prayerService,
		ContentTypeNames: []string{"ContentItem"},
	})
	if err != nil {
		testContext.Fatalf("failed to build tracker: %v", err)
	}
	contentSource.BindInteractions(tracker)

	registry, err := feeds.NewRegistry(feeds.RegistryConfig{
		Content: contentSource,
		Events:  eventSource,
		Prayers: prayerService,
	})
	if err != nil {
		testContext.Fatalf("failed to build algorithm registry: %v", err)
	}
	builder, err := feeds.NewBuilder(feeds.BuilderConfig{Registry: registry, Prayers: prayerService})
	if err != nil {
		testContext.Fatalf("failed to build feature builder: %v", err)
	}
	feedService, err := feeds.NewService(feeds.ServiceConfig{
		Builder: builder,
		Content: contentSource,
		Feeds: config.FeedsConfig{
			Home: []config.FeatureDefinition{{
				Type: feeds.FeatureActionList,
				Algorithms: []config.AlgorithmRef{{
					Type:      feeds.AlgorithmContentFeed,
					Arguments: map[string]any{"channelIds": []any{3}},
				}},
			}},
		},
		Tabs: []config.TabConfig{{Title: "Home", Icon: "home"}},
	})
	if err != nil {
		testContext.Fatalf("failed to build feed service: %v", err)
	}
	campusSource, err := campuses.NewSource(campuses.SourceConfig{Rock: client})
	if err != nil {
		testContext.Fatalf("failed to build campus source: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Auth:         authService,
		Feeds:        feedService,
		Follows:      followService,
		Prayers:      prayerService,
		Interactions: tracker,
		Campuses:     campusSource,
		Nodes:        node.NewRegistry(),
		Logger:       zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	// Login and hold on to the bearer token.
	loginBody, _ := json.Marshal(map[string]string{
		"username": integrationUsername,
		"password": integrationPassword,
	})
	loginResp, err := http.Post(testServer.URL+"/auth/login", jsonContentType, bytes.NewReader(loginBody))
	if err != nil {
		testContext.Fatalf("login request failed: %v", err)
	}
	defer loginResp.Body.Close()
	if loginResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected login status: %d", loginResp.StatusCode)
	}
	var loginPayload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(loginResp.Body).Decode(&loginPayload); err != nil {
		testContext.Fatalf("failed to decode login response: %v", err)
	}
	if loginPayload.AccessToken == "" {
		testContext.Fatalf("expected an access token")
	}

	authedGet := func(path string) *http.Response {
		request, _ := http.NewRequest(http.MethodGet, testServer.URL+path, nil)
		request.Header.Set("Authorization", "Bearer "+loginPayload.AccessToken)
		response, err := http.DefaultClient.Do(request)
		if err != nil {
			testContext.Fatalf("request %s failed: %v", path, err)
		}
		return response
	}
	authedPost := func(path string, body any) *http.Response {
		encoded, _ := json.Marshal(body)
		request, _ := http.NewRequest(http.MethodPost, testServer.URL+path, bytes.NewReader(encoded))
		request.Header.Set("Authorization", "Bearer "+loginPayload.AccessToken)
		request.Header.Set("Content-Type", jsonContentType)
		response, err := http.DefaultClient.Do(request)
		if err != nil {
			testContext.Fatalf("request %s failed: %v", path, err)
		}
		return response
	}

	// The tab list exposes a feed id without evaluating anything.
	tabsResp := authedGet("/tabs")
	defer tabsResp.Body.Close()
	if tabsResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected tabs status: %d", tabsResp.StatusCode)
	}
	var tabsPayload struct {
		Tabs []struct {
			Title  string `json:"title"`
			FeedID string `json:"feedId"`
		} `json:"tabs"`
	}
	if err := json.NewDecoder(tabsResp.Body).Decode(&tabsPayload); err != nil {
		testContext.Fatalf("failed to decode tabs: %v", err)
	}
	if len(tabsPayload.Tabs) != 1 || tabsPayload.Tabs[0].FeedID == "" {
		testContext.Fatalf("expected a single tab with a feed id, got %#v", tabsPayload.Tabs)
	}

	// Materializing the home feed yields the content item as an action.
	feedResp := authedGet("/feeds/home")
	defer feedResp.Body.Close()
	if feedResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected feed status: %d", feedResp.StatusCode)
	}
	var feedPayload struct {
		Features []struct {
			Type    string `json:"type"`
			Actions []struct {
				Title string `json:"title"`
			} `json:"actions"`
		} `json:"features"`
	}
	if err := json.NewDecoder(feedResp.Body).Decode(&feedPayload); err != nil {
		testContext.Fatalf("failed to decode feed: %v", err)
	}
	if len(feedPayload.Features) != 1 || len(feedPayload.Features[0].Actions) != 1 {
		testContext.Fatalf("expected one feature with one action, got %#v", feedPayload.Features)
	}
	if feedPayload.Features[0].Actions[0].Title != "Sunday Gathering" {
		testContext.Fatalf("unexpected action title: %s", feedPayload.Features[0].Actions[0].Title)
	}

	// Like the item and read the counter back immediately.
	itemNodeID := globalid.Encode("31", "ContentItem")
	followResp := authedPost("/nodes/"+itemNodeID+"/follow", map[string]any{})
	defer followResp.Body.Close()
	if followResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected follow status: %d", followResp.StatusCode)
	}
	likesResp := authedGet("/nodes/" + itemNodeID + "/likes")
	defer likesResp.Body.Close()
	var likesPayload struct {
		LikedCount int64 `json:"likedCount"`
		IsLiked    bool  `json:"isLiked"`
	}
	if err := json.NewDecoder(likesResp.Body).Decode(&likesPayload); err != nil {
		testContext.Fatalf("failed to decode likes: %v", err)
	}
	if likesPayload.LikedCount != 1 || !likesPayload.IsLiked {
		testContext.Fatalf("expected immediate like visibility, got %#v", likesPayload)
	}

	// Completing the item records the interaction and marks its series started.
	interactionResp := authedPost("/nodes/"+itemNodeID+"/interactions", map[string]string{"action": "COMPLETE"})
	defer interactionResp.Body.Close()
	if interactionResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected interaction status: %d", interactionResp.StatusCode)
	}
	if got := stub.operations("COMPLETE"); got != 1 {
		testContext.Fatalf("expected one completion upstream, got %d", got)
	}
	if got := stub.operations("SERIES_START"); got != 1 {
		testContext.Fatalf("expected the parent series to be marked started, got %d", got)
	}

	// Add a prayer and find it in the daily rotation.
	prayerResp := authedPost("/prayers", map[string]any{"text": "for our city"})
	defer prayerResp.Body.Close()
	if prayerResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected prayer status: %d", prayerResp.StatusCode)
	}
	dailyResp := authedGet("/prayers/daily")
	defer dailyResp.Body.Close()
	if dailyResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected daily prayer status: %d", dailyResp.StatusCode)
	}
	if got := dailyResp.Header.Get("Cache-Control"); got != "private, no-store" {
		testContext.Fatalf("daily prayers must not be shared-cacheable, got %q", got)
	}
}
