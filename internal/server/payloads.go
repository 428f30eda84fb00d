package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/content"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/scoring"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/voting"
)

type scorePayload struct {
	TargetType string    `json:"targetType"`
	TargetID   string    `json:"targetId"`
	Upvotes    int64     `json:"upvotes"`
	Downvotes  int64     `json:"downvotes"`
	Score      int64     `json:"score"`
	HotScore   *float64  `json:"hotScore,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func newScorePayload(tally scoring.Tally) scorePayload {
	return scorePayload{
		TargetType: string(tally.Kind),
		TargetID:   tally.ID,
		Upvotes:    tally.Upvotes,
		Downvotes:  tally.Downvotes,
		Score:      tally.Score,
		HotScore:   tally.HotScore,
		CreatedAt:  tally.CreatedAt.UTC(),
	}
}

type rankingPayload struct {
	Upvotes   int64     `json:"upvotes"`
	Downvotes int64     `json:"downvotes"`
	Score     int64     `json:"score"`
	HotScore  *float64  `json:"hotScore,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type castRequestPayload struct {
	Value *int `json:"value"`
}

// castResponsePayload carries null value and voteId when the vote was removed.
type castResponsePayload struct {
	Outcome            string   `json:"outcome"`
	Value              *int     `json:"value"`
	VoteID             *string  `json:"voteId"`
	ResultingUpvotes   int64    `json:"resultingUpvotes"`
	ResultingDownvotes int64    `json:"resultingDownvotes"`
	ResultingScore     int64    `json:"resultingScore"`
	HotScore           *float64 `json:"hotScore,omitempty"`
}

func newCastResponse(result voting.CastResult) castResponsePayload {
	response := castResponsePayload{
		Outcome:            string(result.Outcome),
		VoteID:             result.VoteID,
		ResultingUpvotes:   result.Tally.Upvotes,
		ResultingDownvotes: result.Tally.Downvotes,
		ResultingScore:     result.Tally.Score,
		HotScore:           result.Tally.HotScore,
	}
	if result.Value != nil {
		value := result.Value.Int()
		response.Value = &value
	}
	return response
}

type voteStatePayload struct {
	Value  *int    `json:"value"`
	VoteID *string `json:"voteId"`
}

func newVoteState(vote *voting.Vote) voteStatePayload {
	if vote == nil {
		return voteStatePayload{}
	}
	value := vote.VoteValue().Int()
	voteID := vote.ID
	return voteStatePayload{Value: &value, VoteID: &voteID}
}

type hotScoreResponsePayload struct {
	Upvotes       int64     `json:"upvotes"`
	Downvotes     int64     `json:"downvotes"`
	Score         int64     `json:"score"`
	HotScore      float64   `json:"hotScore"`
	VoteComponent float64   `json:"voteComponent"`
	TimeComponent float64   `json:"timeComponent"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newHotScoreResponse(ranking scoring.Ranking) hotScoreResponsePayload {
	return hotScoreResponsePayload{
		Upvotes:       ranking.Counts.Upvotes,
		Downvotes:     ranking.Counts.Downvotes,
		Score:         ranking.Score,
		HotScore:      ranking.HotScore,
		VoteComponent: ranking.VoteComponent,
		TimeComponent: ranking.TimeComponent,
		CreatedAt:     ranking.CreatedAt.UTC(),
	}
}

type createPostRequestPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type createCommentRequestPayload struct {
	Body string `json:"body"`
}

// Anonymous authors are reported by kind only.
type postPayload struct {
	ID           string    `json:"id"`
	AuthorType   string    `json:"authorType"`
	AuthorUserID *string   `json:"authorUserId,omitempty"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Upvotes      int64     `json:"upvotes"`
	Downvotes    int64     `json:"downvotes"`
	Score        int64     `json:"score"`
	HotScore     float64   `json:"hotScore"`
	CreatedAt    time.Time `json:"createdAt"`
}

func newPostPayload(post content.Post) postPayload {
	return postPayload{
		ID:           post.ID,
		AuthorType:   authorType(post.AuthorUserID),
		AuthorUserID: post.AuthorUserID,
		Title:        post.Title,
		Body:         post.Body,
		Upvotes:      post.Upvotes,
		Downvotes:    post.Downvotes,
		Score:        post.Score,
		HotScore:     post.HotScore,
		CreatedAt:    post.CreatedAt.UTC(),
	}
}

type commentPayload struct {
	ID           string    `json:"id"`
	PostID       string    `json:"postId"`
	AuthorType   string    `json:"authorType"`
	AuthorUserID *string   `json:"authorUserId,omitempty"`
	Body         string    `json:"body"`
	Upvotes      int64     `json:"upvotes"`
	Downvotes    int64     `json:"downvotes"`
	Score        int64     `json:"score"`
	CreatedAt    time.Time `json:"createdAt"`
}

func newCommentPayload(comment content.Comment) commentPayload {
	return commentPayload{
		ID:           comment.ID,
		PostID:       comment.PostID,
		AuthorType:   authorType(comment.AuthorUserID),
		AuthorUserID: comment.AuthorUserID,
		Body:         comment.Body,
		Upvotes:      comment.Upvotes,
		Downvotes:    comment.Downvotes,
		Score:        comment.Score,
		CreatedAt:    comment.CreatedAt.UTC(),
	}
}

func authorType(userID *string) string {
	if userID != nil {
		return "user"
	}
	return "anon"
}

type karmaPayload struct {
	UserID       string `json:"userId"`
	PostKarma    int64  `json:"postKarma"`
	CommentKarma int64  `json:"commentKarma"`
	TotalKarma   int64  `json:"totalKarma"`
}
