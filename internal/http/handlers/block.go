package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/http/response"
	"github.com/yungbote/splitstore/internal/modulestore/split"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

type BlockHandler struct {
	log   *logger.Logger
	store Reader
}

func NewBlockHandler(log *logger.Logger, store Reader) *BlockHandler {
	return &BlockHandler{log: log.With("handler", "BlockHandler"), store: store}
}

type blockSummary struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	DisplayName string `json:"display_name"`
}

type blockView struct {
	blockSummary
	Version    keys.VersionID      `json:"version"`
	Definition string              `json:"definition,omitempty"`
	Fields     map[string]any      `json:"fields"`
	Inherited  map[string]any      `json:"inherited"`
	Content    map[string]any      `json:"content,omitempty"`
	Children   []string            `json:"children"`
	EditInfo   types.BlockEditInfo `json:"edit_info"`
}

func summarize(b *split.Block) blockSummary {
	return blockSummary{
		ID:          b.Location().String(),
		Category:    b.Category(),
		DisplayName: b.DisplayName(),
	}
}

// GET /api/blocks/:usage_id?content=true
func (h *BlockHandler) GetBlock(c *gin.Context) {
	u, ok := usageParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	b, err := h.store.GetItem(ctx, u)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	view := blockView{
		blockSummary: summarize(b),
		Version:      b.StructureVersion(),
		Fields:       b.Explicit(),
		Inherited:    b.Inherited(),
		Children:     make([]string, 0, len(b.ChildKeys())),
		EditInfo:     b.EditInfo(),
	}
	if d := b.DefinitionKey(); !d.IsZero() {
		view.Definition = d.String()
	}
	for _, child := range b.Children() {
		view.Children = append(view.Children, child.String())
	}
	if c.Query("content") == "true" {
		content, err := b.Content(ctx)
		if err != nil {
			response.RespondStoreError(c, err)
			return
		}
		view.Content = content
	}
	response.RespondOK(c, view)
}

// GET /api/blocks/:usage_id/parents
func (h *BlockHandler) GetParents(c *gin.Context) {
	u, ok := usageParam(c)
	if !ok {
		return
	}
	parents, err := h.store.GetParents(c.Request.Context(), u)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	out := make([]string, 0, len(parents))
	for _, p := range parents {
		out = append(out, p.String())
	}
	response.RespondOK(c, gin.H{"parents": out})
}

// GET /api/blocks/:usage_id/changes
func (h *BlockHandler) HasChanges(c *gin.Context) {
	u, ok := usageParam(c)
	if !ok {
		return
	}
	changed, err := h.store.HasChanges(c.Request.Context(), u)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"has_changes": changed})
}

func usageParam(c *gin.Context) (keys.UsageKey, bool) {
	u, err := keys.ParseUsageKey(c.Param("usage_id"))
	if err != nil {
		response.RespondStoreError(c, err)
		return keys.UsageKey{}, false
	}
	if u.Course.Branch == "" && u.Course.Version.IsZero() {
		u = u.ForBranch(c.DefaultQuery("branch", keys.DraftBranch))
	}
	return u, true
}
