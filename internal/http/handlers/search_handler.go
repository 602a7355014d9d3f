package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SearchAttachments handles GET /attachments/search?q=&limit=&offset=.
//
// The query matches attachment file names, the text of the messages that
// carried them, and messages near a content hit in time. Results are scoped
// to rooms the caller belongs to; a blank query yields an empty result set.
func (h *Handlers) SearchAttachments(c *gin.Context) {
	me, ok := principal(c)
	if !ok {
		return
	}
	q := c.Query("q")
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)

	results, err := h.search.Search(c.Request.Context(), me, q, offset, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "search failed")
		return
	}
	respond(c, http.StatusOK, gin.H{"results": results})
}
