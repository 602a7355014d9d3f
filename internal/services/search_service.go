// Package services – SearchService
//
// This file implements the hybrid attachment search: direct lexical matches
// (filename or owning-message content) are combined with temporal-context
// matches, where attachments near a matching text message in the same room
// count as hits even when nothing about the file itself matches. The
// motivating case: "the file Bob sent when he mentioned Q3 numbers", where
// neither the filename nor the file's message contains "Q3", but a message
// seconds away does.
//
// The context window size is a server-side constant, never
// client-controlled, to bound query cost.
package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/haechan419/smartspend-chat/internal/repo"
)

// Match reasons, most specific first. A direct filename or message match
// wins over a context-only match for the same attachment.
const (
	MatchFilename = "FILENAME"
	MatchMessage  = "ATT_MSG"
	MatchContext  = "CONTEXT"
)

// SearchResult is one attachment hit with its provenance tag.
type SearchResult struct {
	AttachmentID   int64     `json:"attachment_id"`
	RoomID         int64     `json:"room_id"`
	MessageID      int64     `json:"message_id"`
	UploaderID     int64     `json:"uploader_id"`
	OriginalName   string    `json:"original_name"`
	MimeType       string    `json:"mime_type"`
	SizeBytes      int64     `json:"size_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	MessageSnippet string    `json:"message_snippet"`
	MatchReason    string    `json:"match_reason"`
}

// SearchService answers attachment queries over the rooms the caller
// belongs to.
type SearchService struct {
	// DB is the GORM handle used for queries.
	DB *gorm.DB
	// CtxWindow is the symmetric temporal expansion around each content hit.
	CtxWindow time.Duration
}

// NewSearchService constructs a SearchService with the given context
// window. Non-positive windows fall back to 120s (the production default).
func NewSearchService(db *gorm.DB, ctxWindow time.Duration) *SearchService {
	if ctxWindow <= 0 {
		ctxWindow = 120 * time.Second
	}
	return &SearchService{DB: db, CtxWindow: ctxWindow}
}

// Search runs the hybrid query for userID.
//
// An empty (or blank) query returns an empty result set, never the full
// attachment list. Results are deduplicated by attachment id with the most
// specific match reason kept, ordered by CreatedAt descending, then
// paginated by offset/limit (limit clamped to [1, 50], default 20).
func (s *SearchService) Search(ctx context.Context, userID int64, query string, offset, limit int) ([]SearchResult, error) {
	tr := otel.Tracer("services/SearchService")
	ctx, span := tr.Start(ctx, "Search",
		trace.WithAttributes(attribute.Int64("user.id", userID)),
	)
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	byID := make(map[int64]SearchResult)

	direct, err := repo.SearchDirectAttachments(ctx, s.DB, userID, query)
	if err != nil {
		return nil, err
	}
	lowered := strings.ToLower(query)
	for _, h := range direct {
		reason := MatchMessage
		if strings.Contains(strings.ToLower(h.OriginalName), lowered) {
			reason = MatchFilename
		}
		byID[h.ID] = toResult(h, reason)
	}

	// Context expansion: every content hit opens a ±CtxWindow interval in
	// its own room; attachments whose owning message falls inside count.
	hits, err := repo.FindContentHits(ctx, s.DB, userID, query)
	if err != nil {
		return nil, err
	}
	for _, hit := range hits {
		from := hit.CreatedAt.Add(-s.CtxWindow)
		to := hit.CreatedAt.Add(s.CtxWindow)
		rows, err := repo.AttachmentsInWindow(ctx, s.DB, hit.RoomID, from, to)
		if err != nil {
			return nil, err
		}
		for _, h := range rows {
			if _, seen := byID[h.ID]; seen {
				continue
			}
			byID[h.ID] = toResult(h, MatchContext)
		}
	}

	out := make([]SearchResult, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].AttachmentID > out[j].AttachmentID
	})

	if offset >= len(out) {
		return []SearchResult{}, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func toResult(h repo.AttachmentHit, reason string) SearchResult {
	return SearchResult{
		AttachmentID:   h.ID,
		RoomID:         h.RoomID,
		MessageID:      h.MessageID,
		UploaderID:     h.UploaderID,
		OriginalName:   h.OriginalName,
		MimeType:       h.MimeType,
		SizeBytes:      h.SizeBytes,
		CreatedAt:      h.CreatedAt,
		MessageSnippet: h.MessageSnippet,
		MatchReason:    reason,
	}
}
