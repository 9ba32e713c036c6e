package handlers

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/http/response"
	"github.com/yungbote/splitstore/internal/modulestore/split"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

// Reader is the read side of the modulestore the inspector serves.
type Reader interface {
	GetCourses(ctx context.Context, branch string, org string) ([]*split.Block, error)
	GetCourse(ctx context.Context, course keys.CourseKey) (*split.Block, error)
	GetCourseIndexInfo(ctx context.Context, course keys.CourseKey) (*types.CourseIndex, error)
	GetCourseHistoryInfo(ctx context.Context, course keys.CourseKey) (types.HistoryInfo, error)
	GetStructureHistory(ctx context.Context, course keys.CourseKey) ([]keys.VersionID, error)
	GetOrphans(ctx context.Context, course keys.CourseKey) ([]keys.UsageKey, error)
	GetItems(ctx context.Context, course keys.CourseKey, q split.ItemQuery) ([]*split.Block, error)
	GetItem(ctx context.Context, usage keys.UsageKey) (*split.Block, error)
	GetParents(ctx context.Context, usage keys.UsageKey) ([]keys.UsageKey, error)
	HasChanges(ctx context.Context, usage keys.UsageKey) (bool, error)
}

type CourseHandler struct {
	log   *logger.Logger
	store Reader
}

func NewCourseHandler(log *logger.Logger, store Reader) *CourseHandler {
	return &CourseHandler{log: log.With("handler", "CourseHandler"), store: store}
}

type courseSummary struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Version     keys.VersionID `json:"version"`
	EditedBy    string         `json:"edited_by"`
}

type courseIndexView struct {
	ID            string                    `json:"id"`
	Versions      map[string]keys.VersionID `json:"versions"`
	SearchTargets map[string]any            `json:"search_targets"`
	LastUpdate    time.Time                 `json:"last_update"`
	EditedBy      string                    `json:"edited_by"`
}

type historyView struct {
	Version         keys.VersionID   `json:"version"`
	OriginalVersion keys.VersionID   `json:"original_version"`
	PreviousVersion keys.VersionID   `json:"previous_version,omitempty"`
	EditedBy        string           `json:"edited_by"`
	EditedOn        time.Time        `json:"edited_on"`
	Lineage         []keys.VersionID `json:"lineage"`
}

// GET /api/courses?branch=draft&org=...
func (h *CourseHandler) ListCourses(c *gin.Context) {
	branch := c.DefaultQuery("branch", keys.DraftBranch)
	blocks, err := h.store.GetCourses(c.Request.Context(), branch, c.Query("org"))
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	out := make([]courseSummary, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, courseSummary{
			ID:          b.Location().Course.ForBranch(branch).String(),
			DisplayName: b.DisplayName(),
			Version:     b.StructureVersion(),
			EditedBy:    b.EditedBy(),
		})
	}
	response.RespondOK(c, gin.H{"courses": out})
}

// GET /api/courses/:course_id
func (h *CourseHandler) GetCourseIndex(c *gin.Context) {
	ck, ok := courseParam(c)
	if !ok {
		return
	}
	idx, err := h.store.GetCourseIndexInfo(c.Request.Context(), ck)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, courseIndexView{
		ID:            idx.CourseKey().String(),
		Versions:      idx.Versions,
		SearchTargets: idx.SearchTargets,
		LastUpdate:    idx.LastUpdate,
		EditedBy:      idx.EditedBy,
	})
}

// GET /api/courses/:course_id/history
func (h *CourseHandler) GetHistory(c *gin.Context) {
	ck, ok := courseParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	root, err := h.store.GetCourse(ctx, ck)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	info, err := h.store.GetCourseHistoryInfo(ctx, ck)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	lineage, err := h.store.GetStructureHistory(ctx, ck)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, historyView{
		Version:         root.StructureVersion(),
		OriginalVersion: info.OriginalVersion,
		PreviousVersion: info.PreviousVersion,
		EditedBy:        info.EditedBy,
		EditedOn:        info.EditedOn,
		Lineage:         lineage,
	})
}

// GET /api/courses/:course_id/orphans
func (h *CourseHandler) ListOrphans(c *gin.Context) {
	ck, ok := courseParam(c)
	if !ok {
		return
	}
	orphans, err := h.store.GetOrphans(c.Request.Context(), ck)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	out := make([]string, 0, len(orphans))
	for _, u := range orphans {
		out = append(out, u.String())
	}
	response.RespondOK(c, gin.H{"orphans": out})
}

// GET /api/courses/:course_id/items?category=problem&name=^p
func (h *CourseHandler) ListItems(c *gin.Context) {
	ck, ok := courseParam(c)
	if !ok {
		return
	}
	q := split.ItemQuery{Qualifiers: map[string]any{}}
	if v := c.Query("category"); v != "" {
		q.Qualifiers["category"] = v
	}
	if v := c.Query("name"); v != "" {
		re, err := regexp.Compile(v)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_query", err)
			return
		}
		q.Qualifiers["name"] = re
	}
	blocks, err := h.store.GetItems(c.Request.Context(), ck, q)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	out := make([]blockSummary, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, summarize(b))
	}
	response.RespondOK(c, gin.H{"items": out})
}

func courseParam(c *gin.Context) (keys.CourseKey, bool) {
	ck, err := keys.ParseCourseKey(c.Param("course_id"))
	if err != nil {
		response.RespondStoreError(c, err)
		return keys.CourseKey{}, false
	}
	if ck.Branch == "" && ck.Version.IsZero() {
		ck = ck.ForBranch(c.DefaultQuery("branch", keys.DraftBranch))
	}
	return ck, true
}
