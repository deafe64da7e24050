package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/kwv/binwatch/waste"
)

const (
	defaultHighFillThreshold = 80
	defaultHighFillLimit     = 5
)

// errorResponse is the body of every non-2xx JSON response
type errorResponse struct {
	Error string `json:"error"`
}

type apiHandler struct {
	session *waste.Session
}

// newHTTPServer creates the query API router over session
func newHTTPServer(session *waste.Session) http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())

	h := &apiHandler{session: session}
	engine.GET("/health", h.health)

	v1 := engine.Group("/api/v1")
	v1.GET("/status", h.status)
	v1.GET("/containers", h.containers)
	v1.GET("/containers.geojson", h.containersGeoJSON)
	v1.GET("/containers/high-fill", h.highFill)
	v1.GET("/collections", h.collections)
	v1.GET("/complaints", h.complaints)
	v1.POST("/complaints", h.submitComplaint)
	v1.GET("/neighborhoods", h.neighborhoods)

	metrics := v1.Group("/metrics")
	metrics.GET("/overview", h.overview)
	metrics.GET("/efficiency", h.efficiency)
	metrics.GET("/tiers", h.tiers)
	metrics.GET("/trend", h.trend)
	metrics.GET("/categories", h.categories)

	v1.GET("/routes", h.routes)
	v1.GET("/routes.geojson", h.routesGeoJSON)
	v1.GET("/routes.svg", h.routesImage("svg"))
	v1.GET("/routes.png", h.routesImage("png"))

	return engine
}

// requestLogger logs one line per request at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("[HTTP] request")
	}
}

func (h *apiHandler) health(c *gin.Context) {
	st := h.session.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
		"hasData":   st.Source != waste.SourceNone,
	})
}

func (h *apiHandler) status(c *gin.Context) {
	snap := h.session.GetContainers(c.Request.Context(), false)
	c.JSON(http.StatusOK, gin.H{
		"status": snap.Status,
		"count":  len(snap.Records),
	})
}

// filteredContainers applies the category, neighborhood, q and sort query parameters.
func (h *apiHandler) filteredContainers(c *gin.Context) ([]waste.ContainerRecord, waste.DataStatus, bool) {
	refresh := false
	if v := c.Query("refresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, fmt.Sprintf("invalid refresh value %q", v))
			return nil, waste.DataStatus{}, false
		}
		refresh = b
	}

	snap := h.session.GetContainers(c.Request.Context(), refresh)
	records := waste.FilterContainers(snap.Records, c.Query("category"), c.Query("neighborhood"))
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		records = waste.SearchContainers(records, q)
	}
	if v := c.Query("sort"); v != "" {
		key, ok := waste.ParseSortKey(v)
		if !ok {
			badRequest(c, fmt.Sprintf("unknown sort key %q", v))
			return nil, waste.DataStatus{}, false
		}
		records = waste.SortContainers(records, key)
	}
	return records, snap.Status, true
}

func (h *apiHandler) containers(c *gin.Context) {
	records, st, ok := h.filteredContainers(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"containers": records,
		"count":      len(records),
		"status":     st,
	})
}

func (h *apiHandler) containersGeoJSON(c *gin.Context) {
	records, _, ok := h.filteredContainers(c)
	if !ok {
		return
	}
	data, err := waste.ContainersFeatureCollection(records).MarshalJSON()
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", data)
}

func (h *apiHandler) highFill(c *gin.Context) {
	threshold, ok := queryInt(c, "threshold", defaultHighFillThreshold)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", defaultHighFillLimit)
	if !ok {
		return
	}

	snap := h.session.GetContainers(c.Request.Context(), false)
	records := h.session.Metrics().HighFillContainers(snap.Records, threshold, limit)
	c.JSON(http.StatusOK, gin.H{
		"containers": records,
		"count":      len(records),
		"threshold":  threshold,
		"status":     snap.Status,
	})
}

func (h *apiHandler) collections(c *gin.Context) {
	events := h.session.GetCollectionEvents()
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
		"status": h.session.Status(),
	})
}

func (h *apiHandler) complaints(c *gin.Context) {
	var statuses []waste.ComplaintStatus
	if v := c.Query("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := waste.ComplaintStatus(strings.TrimSpace(part))
			switch st {
			case waste.ComplaintNew, waste.ComplaintPending, waste.ComplaintResolved:
				statuses = append(statuses, st)
			default:
				badRequest(c, fmt.Sprintf("unknown complaint status %q", part))
				return
			}
		}
	}

	records := waste.FilterComplaints(h.session.GetComplaints(), statuses, c.Query("neighborhood"))
	c.JSON(http.StatusOK, gin.H{
		"complaints": records,
		"count":      len(records),
	})
}

func (h *apiHandler) submitComplaint(c *gin.Context) {
	var req waste.ComplaintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid complaint body: "+err.Error())
		return
	}

	rec, err := h.session.SubmitComplaint(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *apiHandler) neighborhoods(c *gin.Context) {
	summaries := h.session.GetNeighborhoodSummaries(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"neighborhoods": summaries,
		"count":         len(summaries),
	})
}

func (h *apiHandler) overview(c *gin.Context) {
	snap := h.session.GetContainers(c.Request.Context(), false)
	ov := h.session.Metrics().Overview(snap.Records, h.session.GetCollectionEvents(), h.session.GetComplaints())
	c.JSON(http.StatusOK, gin.H{
		"overview": ov,
		"status":   snap.Status,
	})
}

func (h *apiHandler) efficiency(c *gin.Context) {
	top, ok := queryInt(c, "top", h.session.Config().Metrics.TopN)
	if !ok {
		return
	}
	snap := h.session.GetContainers(c.Request.Context(), false)
	rows, err := h.session.Metrics().CollectionEfficiency(snap.Records, top)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"neighborhoods": rows, "count": len(rows)})
}

func (h *apiHandler) tiers(c *gin.Context) {
	snap := h.session.GetContainers(c.Request.Context(), false)
	tiers, err := h.session.Metrics().FullnessTiers(snap.Records)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tiers)
}

func (h *apiHandler) trend(c *gin.Context) {
	days, ok := queryInt(c, "days", h.session.Config().Metrics.TrendDays)
	if !ok {
		return
	}
	snap := h.session.GetContainers(c.Request.Context(), false)
	points, err := h.session.Metrics().TrendSeries(h.session.GetCollectionEvents(), snap.Records, days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points, "count": len(points)})
}

func (h *apiHandler) categories(c *gin.Context) {
	totals := h.session.Metrics().WasteByCategory(h.session.GetCollectionEvents())
	c.JSON(http.StatusOK, gin.H{"categories": totals})
}

// buildRoutes builds a fresh route set from the max, category and neighborhood parameters.
func (h *apiHandler) buildRoutes(c *gin.Context) ([]waste.ContainerRecord, waste.RouteSet, bool) {
	maxRoutes, ok := queryInt(c, "max", h.session.Config().Routes.MaxRoutes)
	if !ok {
		return nil, waste.RouteSet{}, false
	}
	snap := h.session.GetContainers(c.Request.Context(), false)
	records := waste.FilterContainers(snap.Records, c.Query("category"), c.Query("neighborhood"))
	return records, h.session.BuildRoutes(records, maxRoutes), true
}

func (h *apiHandler) routes(c *gin.Context) {
	_, set, ok := h.buildRoutes(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, set)
}

func (h *apiHandler) routesGeoJSON(c *gin.Context) {
	_, set, ok := h.buildRoutes(c)
	if !ok {
		return
	}
	data, err := set.FeatureCollection().MarshalJSON()
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", data)
}

func (h *apiHandler) routesImage(format string) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, set, ok := h.buildRoutes(c)
		if !ok {
			return
		}

		r := waste.NewRouteRenderer(records, set)
		var buf bytes.Buffer
		var err error
		contentType := "image/png"
		if format == "svg" {
			contentType = "image/svg+xml"
			err = r.RenderToSVG(&buf)
		} else {
			err = r.RenderToPNG(&buf)
		}
		if err != nil {
			log.WithError(err).Errorf("[HTTP] rendering routes.%s", format)
			respondError(c, err)
			return
		}
		c.Header("Cache-Control", "no-cache")
		c.Data(http.StatusOK, contentType, buf.Bytes())
	}
}

// queryInt reads an integer query parameter; it writes a 400 and returns
// false when the value is not an integer.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	v := c.Query(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid %s value %q", name, v))
		return 0, false
	}
	return n, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// respondError maps typed pipeline errors to their status code; anything else is a 500.
func respondError(c *gin.Context, err error) {
	var werr *waste.Error
	if errors.As(err, &werr) {
		c.JSON(werr.HTTPStatus(), errorResponse{Error: werr.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}
