package content

import "time"

// Post is a top-level submission. Counters are written only through the vote ledger.
type Post struct {
	ID                string    `gorm:"column:id;primaryKey;size:190;not null"`
	AuthorUserID      *string   `gorm:"column:author_user_id;size:190;index:idx_posts_author_user"`
	AuthorAnonymousID *string   `gorm:"column:author_anonymous_id;size:190"`
	Title             string    `gorm:"column:title;size:300;not null"`
	Body              string    `gorm:"column:body;type:text;not null;default:''"`
	Upvotes           int64     `gorm:"column:upvotes;not null;default:0;check:chk_posts_upvotes,upvotes >= 0"`
	Downvotes         int64     `gorm:"column:downvotes;not null;default:0;check:chk_posts_downvotes,downvotes >= 0"`
	Score             int64     `gorm:"column:score;not null;default:0;index:idx_posts_score"`
	HotScore          float64   `gorm:"column:hot_score;not null;default:0;index:idx_posts_hot_score"`
	CreatedAt         time.Time `gorm:"column:created_at;not null;index:idx_posts_created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// Comment belongs to a post and is scored without a hot score.
type Comment struct {
	ID                string    `gorm:"column:id;primaryKey;size:190;not null"`
	PostID            string    `gorm:"column:post_id;size:190;not null;index:idx_comments_post_created,priority:1"`
	AuthorUserID      *string   `gorm:"column:author_user_id;size:190;index:idx_comments_author_user"`
	AuthorAnonymousID *string   `gorm:"column:author_anonymous_id;size:190"`
	Body              string    `gorm:"column:body;type:text;not null"`
	Upvotes           int64     `gorm:"column:upvotes;not null;default:0;check:chk_comments_upvotes,upvotes >= 0"`
	Downvotes         int64     `gorm:"column:downvotes;not null;default:0;check:chk_comments_downvotes,downvotes >= 0"`
	Score             int64     `gorm:"column:score;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;not null;index:idx_comments_post_created,priority:2"`
	UpdatedAt         time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// Karma aggregates the scores of everything a registered user authored.
type Karma struct {
	UserID       string
	PostKarma    int64
	CommentKarma int64
	TotalKarma   int64
}
