package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parishlabs/steeple/internal/auth"
	"github.com/parishlabs/steeple/internal/campuses"
	"github.com/parishlabs/steeple/internal/feeds"
	"github.com/parishlabs/steeple/internal/follows"
	"github.com/parishlabs/steeple/internal/globalid"
	"github.com/parishlabs/steeple/internal/interactions"
	"github.com/parishlabs/steeple/internal/node"
	"github.com/parishlabs/steeple/internal/prayer"
	"github.com/parishlabs/steeple/internal/rock"
)

var (
	errMissingAuthService    = errors.New("auth service dependency required")
	errMissingFeedService    = errors.New("feed service dependency required")
	errMissingFollowsService = errors.New("follows service dependency required")
	errMissingPrayerService  = errors.New("prayer service dependency required")
	errMissingTracker        = errors.New("interaction tracker dependency required")
	errMissingCampusSource   = errors.New("campus source dependency required")
	errMissingNodeRegistry   = errors.New("node registry dependency required")
)

type Dependencies struct {
	Auth         *auth.Service
	Feeds        *feeds.Service
	Follows      *follows.Service
	Prayers      *prayer.Service
	Interactions *interactions.Tracker
	Campuses     *campuses.Source
	Nodes        *node.Registry
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Auth == nil {
		return nil, errMissingAuthService
	}
	if deps.Feeds == nil {
		return nil, errMissingFeedService
	}
	if deps.Follows == nil {
		return nil, errMissingFollowsService
	}
	if deps.Prayers == nil {
		return nil, errMissingPrayerService
	}
	if deps.Interactions == nil {
		return nil, errMissingTracker
	}
	if deps.Campuses == nil {
		return nil, errMissingCampusSource
	}
	if deps.Nodes == nil {
		return nil, errMissingNodeRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		auth:         deps.Auth,
		feeds:        deps.Feeds,
		follows:      deps.Follows,
		prayers:      deps.Prayers,
		interactions: deps.Interactions,
		campuses:     deps.Campuses,
		nodes:        deps.Nodes,
		logger:       logger,
	}

	router.POST("/auth/login", handler.handleLogin)

	// Read paths tolerate anonymous callers; the person, when present, rides
	// the request context.
	api := router.Group("/")
	api.Use(handler.attachPerson)

	api.GET("/tabs", handler.handleTabs)
	api.GET("/feeds/home", handler.handleHomeFeed)
	api.GET("/feeds/discover", handler.handleDiscoverFeed)
	api.GET("/feeds/tab/:tab", handler.handleTabFeed)
	api.GET("/feeds/:id", handler.handleFeedByID)
	api.GET("/feeds/:id/features", handler.handleFeedFeatures)
	api.GET("/content/:id/features", handler.handleContentItemFeatures)

	api.GET("/nodes/:id", handler.handleNode)
	api.GET("/nodes/:id/likes", handler.handleLikes)
	api.POST("/nodes/:id/follow", handler.handleFollow)
	api.DELETE("/nodes/:id/follow", handler.handleUnfollow)
	api.POST("/nodes/:id/interactions", handler.handleCreateInteraction)
	api.GET("/interactions", handler.handleInteractions)
	api.GET("/follows", handler.handleFollowings)

	api.POST("/prayers", handler.handleAddPrayer)
	api.GET("/prayers/daily", handler.handleDailyPrayers)

	api.GET("/campuses", handler.handleCampuses)
	api.GET("/campuses/:id", handler.handleCampusByID)
	api.GET("/people/me/campus", handler.handleMyCampus)
	api.PATCH("/people/me/campus", handler.handleUpdateMyCampus)

	return router, nil
}

type httpHandler struct {
	auth         *auth.Service
	feeds        *feeds.Service
	follows      *follows.Service
	prayers      *prayer.Service
	interactions *interactions.Tracker
	campuses     *campuses.Source
	nodes        *node.Registry
	logger       *zap.Logger
}

// attachPerson resolves the bearer token into the current person. Anonymous
// and unverifiable tokens both pass through: each operation decides for
// itself whether identity is required.
func (h *httpHandler) attachPerson(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.Next()
		return
	}
	rawToken := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if rawToken == "" {
		c.Next()
		return
	}

	person, err := h.auth.PersonFromToken(c.Request.Context(), rawToken)
	if err != nil {
		h.logger.Debug("session token rejected", zap.Error(err))
		c.Next()
		return
	}
	c.Request = c.Request.WithContext(auth.WithPerson(c.Request.Context(), person))
	c.Next()
}

type loginRequestPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.auth.Authenticate(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type tabPayload struct {
	Title  string `json:"title"`
	Icon   string `json:"icon"`
	FeedID string `json:"feedId"`
}

// handleTabs lists the app's top-level tabs. Only feed ids go out; the feeds
// stay unevaluated until a tab is opened.
func (h *httpHandler) handleTabs(c *gin.Context) {
	tabs := h.feeds.Tabs()
	payload := make([]tabPayload, 0, len(tabs))
	for _, tab := range tabs {
		payload = append(payload, tabPayload{Title: tab.Title, Icon: tab.Icon, FeedID: tab.Feed.ID()})
	}
	c.JSON(http.StatusOK, gin.H{"tabs": payload})
}

func (h *httpHandler) handleHomeFeed(c *gin.Context) {
	h.respondFeed(c, h.feeds.HomeFeed())
}

func (h *httpHandler) handleDiscoverFeed(c *gin.Context) {
	h.respondFeed(c, h.feeds.DiscoverFeed())
}

func (h *httpHandler) handleTabFeed(c *gin.Context) {
	h.respondFeed(c, h.feeds.TabFeed(c.Param("tab")))
}

// handleFeedByID returns only the feed's identity, without materializing its
// features.
func (h *httpHandler) handleFeedByID(c *gin.Context) {
	feed, err := h.feeds.GetFromID(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": feed.ID()})
}

func (h *httpHandler) handleFeedFeatures(c *gin.Context) {
	feed, err := h.feeds.GetFromID(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondFeed(c, feed)
}

func (h *httpHandler) handleContentItemFeatures(c *gin.Context) {
	h.respondFeed(c, h.feeds.ContentItemFeed(c.Param("id")))
}

// respondFeed materializes a feed and sets the cache scope: feeds touching
// per-person data must never be served from a shared cache.
func (h *httpHandler) respondFeed(c *gin.Context, feed *feeds.Feed) {
	features, err := feed.Features(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	private := false
	for _, feature := range features {
		if feature.Private {
			private = true
			break
		}
	}
	if private {
		c.Header("Cache-Control", "private, no-store")
	} else {
		c.Header("Cache-Control", "public, max-age=60")
	}

	c.JSON(http.StatusOK, gin.H{"id": feed.ID(), "features": features})
}

func (h *httpHandler) handleNode(c *gin.Context) {
	resolved, err := h.nodes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if resolved == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, resolved)
}

// handleLikes reports the like count and, for identified callers, whether
// they liked the node. Anonymous callers see isLiked false, never an error.
func (h *httpHandler) handleLikes(c *gin.Context) {
	nodeID := c.Param("id")
	count, err := h.follows.LikedCount(c.Request.Context(), nodeID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	isLiked, err := h.follows.IsLikedForCurrentUserAndNode(c.Request.Context(), nodeID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"likedCount": count, "isLiked": isLiked})
}

func (h *httpHandler) handleFollow(c *gin.Context) {
	if _, err := h.follows.Follow(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "nodeId": c.Param("id")})
}

func (h *httpHandler) handleUnfollow(c *gin.Context) {
	if err := h.follows.Unfollow(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "nodeId": c.Param("id")})
}

func (h *httpHandler) handleFollowings(c *gin.Context) {
	followings, err := h.follows.FollowingsForCurrentUser(c.Request.Context(), c.Query("type"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"follows": followings})
}

type interactionRequestPayload struct {
	Action string `json:"action"`
}

func (h *httpHandler) handleCreateInteraction(c *gin.Context) {
	var request interactionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Action) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	nodeID := c.Param("id")
	if err := h.interactions.CreateNodeInteraction(c.Request.Context(), nodeID, request.Action); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "nodeId": nodeID})
}

func (h *httpHandler) handleInteractions(c *gin.Context) {
	actions := splitParam(c.Query("actions"))
	nodeIDs := splitParam(c.Query("nodeIds"))

	var (
		records any
		err     error
	)
	if len(nodeIDs) > 0 {
		records, err = h.interactions.InteractionsForCurrentUserAndNodes(c.Request.Context(), nodeIDs, actions)
	} else {
		records, err = h.interactions.InteractionsForCurrentUser(c.Request.Context(), actions)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interactions": records})
}

type prayerRequestPayload struct {
	Text        string `json:"text"`
	IsAnonymous bool   `json:"isAnonymous"`
	CampusID    int    `json:"campusId"`
}

func (h *httpHandler) handleAddPrayer(c *gin.Context) {
	var request prayerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	created, err := h.prayers.AddPrayer(c.Request.Context(), request.Text, request.IsAnonymous, request.CampusID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleDailyPrayers(c *gin.Context) {
	args := prayer.DailyFeedArgs{
		NumberDaysSincePrayer: queryInt(c, "days"),
		PersonID:              queryInt(c, "personId"),
		Limit:                 queryInt(c, "limit"),
	}
	requests, err := h.prayers.ByDailyPrayerFeed(c.Request.Context(), args)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Cache-Control", "private, no-store")
	c.JSON(http.StatusOK, gin.H{"prayers": requests})
}

func (h *httpHandler) handleCampuses(c *gin.Context) {
	latitude, hasLatitude := queryFloat(c, "latitude")
	longitude, hasLongitude := queryFloat(c, "longitude")

	var (
		list []campuses.Campus
		err  error
	)
	if hasLatitude && hasLongitude {
		list, err = h.campuses.ByLocation(c.Request.Context(), latitude, longitude)
	} else {
		list, err = h.campuses.GetAll(c.Request.Context())
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campuses": list})
}

func (h *httpHandler) handleCampusByID(c *gin.Context) {
	campusID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	campus, err := h.campuses.GetFromID(c.Request.Context(), campusID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if campus == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, campus)
}

func (h *httpHandler) handleMyCampus(c *gin.Context) {
	person, err := auth.CurrentPerson(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	campus, err := h.campuses.ForPerson(c.Request.Context(), person.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if campus == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, campus)
}

type campusUpdatePayload struct {
	CampusID int `json:"campusId"`
}

func (h *httpHandler) handleUpdateMyCampus(c *gin.Context) {
	var request campusUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.CampusID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.campuses.UpdateCurrentUserCampus(c.Request.Context(), request.CampusID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// respondError maps domain errors onto HTTP statuses. Upstream failures
// surface the failing resource but never the raw response body.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	var malformed *globalid.MalformedIDError
	var unknownAlgorithm *feeds.UnknownAlgorithmError
	var misconfigured *feeds.ConfigurationError
	var upstream *rock.RequestError

	switch {
	case errors.Is(err, auth.ErrAuthenticationRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
	case errors.As(err, &malformed), errors.Is(err, feeds.ErrNotAFeed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_id"})
	case errors.Is(err, prayer.ErrEmptyPrayerText):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, prayer.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, rock.ErrUnknownNodeType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_node_type"})
	case errors.As(err, &upstream):
		h.logger.Error("upstream request failed",
			zap.String("resource", upstream.Resource),
			zap.Int("status", upstream.Status))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_unavailable"})
	case errors.As(err, &unknownAlgorithm), errors.As(err, &misconfigured):
		h.logger.Error("feed configuration error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feed_configuration"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func splitParam(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func queryInt(c *gin.Context, name string) int {
	value, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return value
}

func queryFloat(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
