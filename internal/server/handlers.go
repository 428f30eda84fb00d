package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/content"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/scoring"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/voting"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (h *httpHandler) handleIssueAnonymousID(c *gin.Context) {
	anonymousID, err := uuid.NewRandom()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"anonymousId": anonymousID.String()})
}

func (h *httpHandler) handleCastVote(c *gin.Context) {
	target, err := voting.NewTarget(c.Param("targetType"), c.Param("targetId"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	var request castRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Value == nil {
		badRequest(c, messageBadValue)
		return
	}
	value, err := voting.ParseVoteValue(*request.Value)
	if err != nil {
		h.writeError(c, err)
		return
	}

	voter, err := h.resolveVoter(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	result, err := h.votes.CastVote(c.Request.Context(), target, voter, value)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCastResponse(result))
}

func (h *httpHandler) handleGetVote(c *gin.Context) {
	target, err := voting.NewTarget(c.Param("targetType"), c.Param("targetId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	voter, err := h.resolveVoter(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	vote, err := h.votes.GetVote(c.Request.Context(), target, voter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newVoteState(vote))
}

func (h *httpHandler) handleRanking(kind scoring.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := scoring.EntityRef{Kind: kind, ID: trimmedParam(c, "id")}
		tally, err := h.scores.RankingInputs(c.Request.Context(), ref)
		if err != nil {
			h.writeRankingError(c, kind, err)
			return
		}
		c.JSON(http.StatusOK, rankingPayload{
			Upvotes:   tally.Upvotes,
			Downvotes: tally.Downvotes,
			Score:     tally.Score,
			HotScore:  tally.HotScore,
			CreatedAt: tally.CreatedAt.UTC(),
		})
	}
}

func (h *httpHandler) handleComputeHotScore(c *gin.Context) {
	var input scoring.RankingInput
	decoder := json.NewDecoder(c.Request.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&input); err != nil {
		badRequest(c, messageBadBody)
		return
	}
	ranking, err := scoring.Compute(input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newHotScoreResponse(ranking))
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	var request createPostRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, messageBadBody)
		return
	}
	author, err := h.resolveVoter(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	post, err := h.content.CreatePost(c.Request.Context(), author, request.Title, request.Body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newPostPayload(post))
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	post, err := h.content.GetPost(c.Request.Context(), trimmedParam(c, "id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPostPayload(post))
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	sortOrder, err := content.ParseSortOrder(c.Query("sort"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			badRequest(c, messageBadLimit)
			return
		}
	}
	posts, err := h.content.ListPosts(c.Request.Context(), content.ListOptions{Sort: sortOrder, Limit: limit})
	if err != nil {
		h.writeError(c, err)
		return
	}
	payload := make([]postPayload, 0, len(posts))
	for _, post := range posts {
		payload = append(payload, newPostPayload(post))
	}
	c.JSON(http.StatusOK, gin.H{"sort": string(sortOrder), "posts": payload})
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	var request createCommentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, messageBadBody)
		return
	}
	author, err := h.resolveVoter(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	comment, err := h.content.CreateComment(c.Request.Context(), trimmedParam(c, "id"), author, request.Body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCommentPayload(comment))
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	comments, err := h.content.ListComments(c.Request.Context(), trimmedParam(c, "id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	payload := make([]commentPayload, 0, len(comments))
	for _, comment := range comments {
		payload = append(payload, newCommentPayload(comment))
	}
	c.JSON(http.StatusOK, gin.H{"comments": payload})
}

func (h *httpHandler) handleKarma(c *gin.Context) {
	karma, err := h.content.Karma(c.Request.Context(), trimmedParam(c, "id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, karmaPayload{
		UserID:       karma.UserID,
		PostKarma:    karma.PostKarma,
		CommentKarma: karma.CommentKarma,
		TotalKarma:   karma.TotalKarma,
	})
}

func (h *httpHandler) handleScoreStream(c *gin.Context) {
	target, err := voting.NewTarget(c.Param("targetType"), c.Param("targetId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	tally, err := h.scores.RankingInputs(ctx, target.Ref())
	if err != nil {
		h.writeRankingError(c, target.Kind(), err)
		return
	}

	stream, cleanup := h.realtime.Subscribe(ctx, target.Key())
	defer cleanup()
	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(RealtimeEventScore, gin.H{"score": newScorePayload(tally), "source": realtimeSourceBackend})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(message.EventType, gin.H{
				"score":     message.Score,
				"outcome":   message.Outcome,
				"timestamp": message.Timestamp,
				"source":    realtimeSourceBackend,
			})
			c.Writer.Flush()
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC(), "source": realtimeSourceBackend})
			c.Writer.Flush()
			h.logger.Debug("score stream heartbeat", zap.String("target", target.Key()))
		}
	}
}
