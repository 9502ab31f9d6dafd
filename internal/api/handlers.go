package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Smitty-01/ChainGaurd/internal/bulk"
	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxTopN       = 1000
	maxBatchIDs   = 1000
	maxUploadSize = 32 << 20
)

type idsRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// handleLookup returns the fused assessment for a raw key or secure id.
func (h *APIHandler) handleLookup(c *gin.Context) {
	a, err := h.svc.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// handleBatch looks up a list of identifiers, skipping unknown ones.
func (h *APIHandler) handleBatch(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("expected {\"ids\": [...]}: %w", models.ErrInvalidInput))
		return
	}
	if len(req.IDs) > maxBatchIDs {
		respondError(c, fmt.Errorf("batch of %d exceeds %d ids, use /bulk: %w", len(req.IDs), maxBatchIDs, models.ErrInvalidInput))
		return
	}

	results, err := h.svc.Batch(c.Request.Context(), req.IDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results":   results,
		"count":     len(results),
		"requested": len(req.IDs),
	})
}

func (h *APIHandler) handleTopRisk(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n > maxTopN {
		respondError(c, fmt.Errorf("n must be an integer in 1..%d: %w", maxTopN, models.ErrInvalidInput))
		return
	}
	top, err := h.svc.TopRisk(c.Request.Context(), n)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": top, "count": len(top)})
}

// handleGraph renders the k-hop neighborhood.
// GET /api/v1/graph/:id?depth=2&max_nodes=150
func (h *APIHandler) handleGraph(c *gin.Context) {
	depth, err := strconv.Atoi(c.DefaultQuery("depth", "1"))
	if err != nil {
		respondError(c, fmt.Errorf("depth must be an integer: %w", models.ErrInvalidInput))
		return
	}
	maxNodes, err := strconv.Atoi(c.DefaultQuery("max_nodes", "0"))
	if err != nil {
		respondError(c, fmt.Errorf("max_nodes must be an integer: %w", models.ErrInvalidInput))
		return
	}

	view, err := h.svc.Neighborhood(c.Request.Context(), c.Param("id"), depth, maxNodes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *APIHandler) handleReport(c *gin.Context) {
	report, err := h.svc.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleBulk scores a JSON id list or an uploaded CSV with a txId column.
func (h *APIHandler) handleBulk(c *gin.Context) {
	ids, err := h.bulkIDs(c)
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.svc.BulkScore(c.Request.Context(), ids)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *APIHandler) bulkIDs(c *gin.Context) ([]string, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		var req idsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, fmt.Errorf("expected {\"ids\": [...]} or a multipart CSV upload: %w", models.ErrInvalidInput)
		}
		if len(req.IDs) > bulk.MaxUploadRows {
			return nil, fmt.Errorf("batch exceeds %d rows: %w", bulk.MaxUploadRows, models.ErrInvalidInput)
		}
		return req.IDs, nil
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("multipart upload needs a \"file\" part: %w", models.ErrInvalidInput)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %v: %w", err, models.ErrInvalidInput)
	}
	defer f.Close()
	return bulk.ReadIDs(f)
}

// handleExport streams the per-row CSV of a finished bulk run.
func (h *APIHandler) handleExport(c *gin.Context) {
	runID := c.Param("runId")
	data, err := h.svc.Export(runID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "bulk_"+runID+".csv"))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// maxRunsPageSize matches the page ceiling of the audit store.
const maxRunsPageSize = 500

// handleRuns returns the bulk run audit trail, newest first.
func (h *APIHandler) handleRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		respondError(c, fmt.Errorf("page must be a positive integer: %w", models.ErrInvalidInput))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > maxRunsPageSize {
		respondError(c, fmt.Errorf("limit must be between 1 and %d: %w", maxRunsPageSize, models.ErrInvalidInput))
		return
	}

	runs, totalCount, err := h.runs.GetBulkRuns(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, fmt.Errorf("fetch bulk runs: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":       runs,
		"totalCount": totalCount,
		"page":       page,
		"limit":      limit,
	})
}

// handleAlerts returns recent alerts. ?severity=High filters to that band
// and above.
func (h *APIHandler) handleAlerts(c *gin.Context) {
	if h.alerts == nil {
		c.JSON(http.StatusOK, gin.H{"data": []any{}, "count": 0})
		return
	}

	if sev := c.Query("severity"); sev != "" {
		band, ok := parseBand(sev)
		if !ok {
			respondError(c, fmt.Errorf("unknown severity %q: %w", sev, models.ErrInvalidInput))
			return
		}
		alerts := h.alerts.BySeverity(band)
		c.JSON(http.StatusOK, gin.H{"data": alerts, "count": len(alerts)})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		respondError(c, fmt.Errorf("limit must be a positive integer: %w", models.ErrInvalidInput))
		return
	}
	alerts := h.alerts.Recent(limit)
	c.JSON(http.StatusOK, gin.H{"data": alerts, "count": len(alerts)})
}

func parseBand(s string) (models.Band, bool) {
	for _, b := range models.Bands {
		if strings.EqualFold(string(b), s) {
			return b, true
		}
	}
	return "", false
}

// handleShadowDrift compares the candidate model with production over the
// whole dataset.
func (h *APIHandler) handleShadowDrift(c *gin.Context) {
	if h.shadow == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "detail": "no shadow model configured"})
		return
	}
	ds, err := h.svc.Dataset()
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	report := h.shadow.GenerateDriftReport(ctx, ds.Store)

	resp := gin.H{"drift": report}
	total, divergences, avgDelta, err := h.shadow.Summary(ctx)
	if err != nil {
		h.logger.Warn("[API] Shadow summary unavailable", zap.Error(err))
	} else {
		resp["served"] = gin.H{
			"comparisons": total,
			"divergences": divergences,
			"avgDelta":    avgDelta,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleHealth reports engine status for service discovery. It answers 503
// until the dataset is published.
func (h *APIHandler) handleHealth(c *gin.Context) {
	dbConnected := false
	if h.runs != nil {
		dbConnected = h.runs.Ping(c.Request.Context()) == nil
	}

	stats, err := h.svc.Stats()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":      "loading",
			"engine":      EngineName,
			"dbConnected": dbConnected,
		})
		return
	}

	shadowVersion := ""
	if h.shadow != nil {
		shadowVersion = h.shadow.CandidateVersion()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"engine":      EngineName,
		"dataset":     stats,
		"shadowModel": shadowVersion,
		"dbConnected": dbConnected,
	})
}
