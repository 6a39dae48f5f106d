package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkorzh/listing-sieve/app/rules"
	"github.com/mkorzh/listing-sieve/app/store"
	"github.com/mkorzh/listing-sieve/app/surface"
)

// enrichTimeout bounds the detail fetches performed while rendering the
// blacklist listing; entries past the deadline fall back to URL-only.
const enrichTimeout = 5 * time.Second

func NewHandler(settingsStore SettingsStore, supervisor SupervisorInterface,
	fetcher ListingFetcher, surfaces map[surface.Kind]*surface.Remote,
	catalog []rules.Rule, version string) *Handler {
	return &Handler{
		store:      settingsStore,
		supervisor: supervisor,
		fetcher:    fetcher,
		surfaces:   surfaces,
		catalog:    catalog,
		version:    version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
	}

	if count, err := h.store.BlacklistCount(c.Request.Context()); err == nil {
		health["blacklisted"] = count
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := h.supervisor.Stats()

	c.JSON(http.StatusOK, map[string]interface{}{
		"batches":        stats.Batches,
		"processed":      stats.Processed,
		"hidden":         stats.Hidden,
		"highlighted":    stats.Highlighted,
		"failures":       stats.Failures,
		"include_studio": h.supervisor.Session().IncludeStudio(),
	})
}

// GetBadge serves the toolbar badge payload: the blacklist size, empty
// text when nothing is blacklisted.
func (h *Handler) GetBadge(c *gin.Context) {
	count, err := h.store.BlacklistCount(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "blacklist_count", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	text := ""
	if count > 0 {
		text = strconv.Itoa(count)
	}
	c.JSON(http.StatusOK, gin.H{"count": count, "text": text})
}

func (h *Handler) ListBlacklist(c *gin.Context) {
	entries, err := h.store.Blacklist(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_blacklist", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), enrichTimeout)
	defer cancel()

	listings := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		info := map[string]interface{}{
			"url":      entry.URL,
			"added_at": entry.AddedAt.Format(time.RFC3339),
		}

		// Best effort: an unreachable detail page degrades to URL-only
		if record, err := h.fetcher.Fetch(ctx, entry.URL); err == nil {
			info["title"] = record.Title
			info["address"] = record.Address
			info["beds"] = record.Layout.Beds
			info["baths"] = record.Layout.Baths
			info["parking"] = record.Layout.Parking
			if len(record.Images) > 0 {
				info["image"] = record.Images[0]
			}
		}

		listings = append(listings, info)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"listings": listings,
		"total":    len(listings),
	})
}

func (h *Handler) ToggleBlacklist(c *gin.Context) {
	var body struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing listing url"})
		return
	}

	listed, err := h.store.ToggleBlacklist(c.Request.Context(), body.URL)
	if err != nil {
		slog.Error("Database error", "operation", "toggle_blacklist", "url", body.URL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":         store.NormalizeURL(body.URL),
		"blacklisted": listed,
	})
}

func (h *Handler) ClearBlacklist(c *gin.Context) {
	if err := h.store.ClearBlacklist(c.Request.Context()); err != nil {
		slog.Error("Database error", "operation", "clear_blacklist", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetRules lists the selectable preference rule catalog together with the
// currently selected patterns.
func (h *Handler) GetRules(c *gin.Context) {
	settings, err := h.store.Snapshot(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "snapshot", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	selected := make(map[string]struct{}, len(settings.Preferences))
	for _, pattern := range settings.Preferences {
		selected[pattern] = struct{}{}
	}

	catalog := make([]map[string]interface{}, 0, len(h.catalog))
	for _, rule := range h.catalog {
		_, active := selected[rule.Pattern]
		catalog = append(catalog, map[string]interface{}{
			"label":    rule.Label,
			"pattern":  rule.Pattern,
			"selected": active,
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"rules":            catalog,
		"other_preference": strings.Join(settings.OtherPreferences, ", "),
	})
}

// UpdateSettings persists the fields present in the request body. Absent
// fields are left untouched; invalid values reject the whole request.
func (h *Handler) UpdateSettings(c *gin.Context) {
	var body struct {
		ExcludeKeywords *string  `json:"exclude_keywords"`
		StrataCeiling   *int     `json:"strata_ceiling"`
		Preferences     []string `json:"preferences"`
		OtherPreference *string  `json:"other_preference"`
		IncludeStudio   *bool    `json:"include_studio"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid settings payload", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()

	if body.ExcludeKeywords != nil {
		if err := h.store.SetExcludeKeywords(ctx, *body.ExcludeKeywords); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid exclude keywords", "details": err.Error()})
			return
		}
	}
	if body.StrataCeiling != nil {
		if err := h.store.SetStrataCeiling(ctx, *body.StrataCeiling); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid strata ceiling", "details": err.Error()})
			return
		}
	}
	if body.Preferences != nil {
		if err := h.store.SetPreferences(ctx, body.Preferences); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid preference pattern", "details": err.Error()})
			return
		}
	}
	if body.OtherPreference != nil {
		if err := h.store.SetOtherPreference(ctx, *body.OtherPreference); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid preference pattern", "details": err.Error()})
			return
		}
	}
	if body.IncludeStudio != nil {
		h.supervisor.Session().SetIncludeStudio(*body.IncludeStudio)
		// Session state bypasses the store's change notifications
		h.supervisor.Refresh()
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PostSurfaceEvents ingests a batch of host-page events from the browser
// shim for one surface.
func (h *Handler) PostSurfaceEvents(c *gin.Context) {
	remote, ok := h.surfaces[surface.Kind(c.Param("kind"))]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown surface"})
		return
	}

	var body struct {
		Events []surface.Event `json:"events" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event payload", "details": err.Error()})
		return
	}

	for _, event := range body.Events {
		if err := remote.ApplyEvent(event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Rejected event", "details": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"accepted": len(body.Events)})
}

// GetSurfaceOps drains the queued visual operations for one surface.
func (h *Handler) GetSurfaceOps(c *gin.Context) {
	remote, ok := h.surfaces[surface.Kind(c.Param("kind"))]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown surface"})
		return
	}

	ops := remote.DrainOps()
	if ops == nil {
		ops = []surface.Op{}
	}
	c.JSON(http.StatusOK, gin.H{"ops": ops})
}
