package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/scoring"
	"github.com/jonboulle/clockwork"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxTitleLength   = 300
	maxBodyLength    = 40000
	defaultListLimit = 25
	maxListLimit     = 100

	opServiceNew    = "content.service.new"
	opCreatePost    = "content.create_post"
	opCreateComment = "content.create_comment"
	opGetPost       = "content.get_post"
	opListPosts     = "content.list_posts"
	opListComments  = "content.list_comments"
	opKarma         = "content.karma"

	messagePostNotFound = "Post not found"
)

var (
	// ErrNotFound is wrapped by errors for missing posts.
	ErrNotFound = errors.New("content: not found")
	// ErrInvalidInput is wrapped by errors for rejected titles, bodies and list options.
	ErrInvalidInput = errors.New("content: invalid input")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceError pairs an operation-scoped code with a client-safe message.
type ServiceError struct {
	code    string
	message string
	err     error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
	return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func (e *ServiceError) Message() string {
	return e.message
}

func newServiceError(operation, reason, message string, cause error) error {
	if message == "" {
		message = "internal error"
	}
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), message: message, err: cause}
}

func invalidInput(operation, reason, message string) error {
	return newServiceError(operation, reason, message, ErrInvalidInput)
}

// SortOrder selects the feed ordering.
type SortOrder string

const (
	SortHot SortOrder = "hot"
	SortTop SortOrder = "top"
	SortNew SortOrder = "new"
)

// ParseSortOrder defaults to hot when raw is empty.
func ParseSortOrder(raw string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SortHot:
		return SortHot, nil
	case SortTop:
		return SortTop, nil
	case SortNew:
		return SortNew, nil
	default:
		return "", invalidInput(opListPosts, "invalid_sort", "sort must be hot, top or new")
	}
}

func (o SortOrder) orderClause() string {
	switch o {
	case SortTop:
		return "score DESC, created_at DESC, id DESC"
	case SortNew:
		return "created_at DESC, id DESC"
	default:
		return "hot_score DESC, created_at DESC, id DESC"
	}
}

// ListOptions bounds a feed query. A zero Limit means the default page size.
type ListOptions struct {
	Sort  SortOrder
	Limit int
}

// IDProvider issues post and comment identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      clockwork.Clock
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service stores posts and comments and serves the ranked feed and karma read paths.
type Service struct {
	db          *gorm.DB
	clock       clockwork.Clock
	idProvider  IDProvider
	titlePolicy *bluemonday.Policy
	bodyPolicy  *bluemonday.Policy
	logger      *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", "", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", "", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:          cfg.Database,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		titlePolicy: bluemonday.StrictPolicy(),
		bodyPolicy:  bluemonday.UGCPolicy(),
		logger:      logger,
	}, nil
}

// CreatePost stores a new post with zeroed counters and its initial hot score.
func (s *Service) CreatePost(ctx context.Context, author identity.Identity, title, body string) (Post, error) {
	if author.IsZero() {
		return Post{}, invalidInput(opCreatePost, "missing_author", "author identity is required")
	}
	cleanTitle := strings.TrimSpace(s.titlePolicy.Sanitize(strings.TrimSpace(title)))
	if cleanTitle == "" {
		return Post{}, invalidInput(opCreatePost, "missing_title", "title is required")
	}
	if utf8.RuneCountInString(cleanTitle) > maxTitleLength {
		return Post{}, invalidInput(opCreatePost, "title_too_long", fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	cleanBody := strings.TrimSpace(s.bodyPolicy.Sanitize(strings.TrimSpace(body)))
	if utf8.RuneCountInString(cleanBody) > maxBodyLength {
		return Post{}, invalidInput(opCreatePost, "body_too_long", fmt.Sprintf("body must be at most %d characters", maxBodyLength))
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreatePost, "id_generation_failed", err)
		return Post{}, newServiceError(opCreatePost, "id_generation_failed", "", err)
	}
	now := s.clock.Now().UTC()
	post := Post{
		ID:        id,
		Title:     cleanTitle,
		Body:      cleanBody,
		HotScore:  scoring.HotScore(0, now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	post.AuthorUserID, post.AuthorAnonymousID = author.Columns()

	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		s.logError(opCreatePost, "insert_failed", err, zap.String("post_id", id))
		return Post{}, newServiceError(opCreatePost, "insert_failed", "", err)
	}
	return post, nil
}

// CreateComment stores a comment on an existing post.
func (s *Service) CreateComment(ctx context.Context, postID string, author identity.Identity, body string) (Comment, error) {
	if author.IsZero() {
		return Comment{}, invalidInput(opCreateComment, "missing_author", "author identity is required")
	}
	cleanBody := strings.TrimSpace(s.bodyPolicy.Sanitize(strings.TrimSpace(body)))
	if cleanBody == "" {
		return Comment{}, invalidInput(opCreateComment, "missing_body", "body is required")
	}
	if utf8.RuneCountInString(cleanBody) > maxBodyLength {
		return Comment{}, invalidInput(opCreateComment, "body_too_long", fmt.Sprintf("body must be at most %d characters", maxBodyLength))
	}

	var comment Comment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Post{}).Where("id = ?", strings.TrimSpace(postID)).Count(&count).Error; err != nil {
			s.logError(opCreateComment, "post_lookup_failed", err, zap.String("post_id", postID))
			return newServiceError(opCreateComment, "post_lookup_failed", "", err)
		}
		if count == 0 {
			return newServiceError(opCreateComment, "post_not_found", messagePostNotFound, ErrNotFound)
		}

		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreateComment, "id_generation_failed", err)
			return newServiceError(opCreateComment, "id_generation_failed", "", err)
		}
		now := s.clock.Now().UTC()
		comment = Comment{
			ID:        id,
			PostID:    strings.TrimSpace(postID),
			Body:      cleanBody,
			CreatedAt: now,
			UpdatedAt: now,
		}
		comment.AuthorUserID, comment.AuthorAnonymousID = author.Columns()
		if err := tx.Create(&comment).Error; err != nil {
			s.logError(opCreateComment, "insert_failed", err, zap.String("post_id", postID))
			return newServiceError(opCreateComment, "insert_failed", "", err)
		}
		return nil
	})
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// GetPost loads one post by id.
func (s *Service) GetPost(ctx context.Context, postID string) (Post, error) {
	var post Post
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(postID)).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, newServiceError(opGetPost, "post_not_found", messagePostNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(opGetPost, "query_failed", err, zap.String("post_id", postID))
		return Post{}, newServiceError(opGetPost, "query_failed", "", err)
	}
	return post, nil
}

// ListPosts returns one page of the feed in the requested order.
func (s *Service) ListPosts(ctx context.Context, options ListOptions) ([]Post, error) {
	sort := options.Sort
	if sort == "" {
		sort = SortHot
	}
	if _, err := ParseSortOrder(string(sort)); err != nil {
		return nil, err
	}
	limit := options.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit < 1 || limit > maxListLimit {
		return nil, invalidInput(opListPosts, "invalid_limit", fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
	}

	var posts []Post
	if err := s.db.WithContext(ctx).
		Order(sort.orderClause()).
		Limit(limit).
		Find(&posts).Error; err != nil {
		s.logError(opListPosts, "query_failed", err, zap.String("sort", string(sort)))
		return nil, newServiceError(opListPosts, "query_failed", "", err)
	}
	return posts, nil
}

// ListComments returns a post's comments, oldest first.
func (s *Service) ListComments(ctx context.Context, postID string) ([]Comment, error) {
	if _, err := s.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	var comments []Comment
	if err := s.db.WithContext(ctx).
		Where("post_id = ?", strings.TrimSpace(postID)).
		Order("created_at ASC, id ASC").
		Find(&comments).Error; err != nil {
		s.logError(opListComments, "query_failed", err, zap.String("post_id", postID))
		return nil, newServiceError(opListComments, "query_failed", "", err)
	}
	return comments, nil
}

// Karma sums the current scores of the user's posts and comments at read time.
func (s *Service) Karma(ctx context.Context, userID string) (Karma, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return Karma{}, invalidInput(opKarma, "missing_user_id", "user id is required")
	}

	postKarma, err := s.sumScores(ctx, &Post{}, trimmed)
	if err != nil {
		s.logError(opKarma, "post_sum_failed", err, zap.String("user_id", trimmed))
		return Karma{}, newServiceError(opKarma, "post_sum_failed", "", err)
	}
	commentKarma, err := s.sumScores(ctx, &Comment{}, trimmed)
	if err != nil {
		s.logError(opKarma, "comment_sum_failed", err, zap.String("user_id", trimmed))
		return Karma{}, newServiceError(opKarma, "comment_sum_failed", "", err)
	}
	return Karma{
		UserID:       trimmed,
		PostKarma:    postKarma,
		CommentKarma: commentKarma,
		TotalKarma:   postKarma + commentKarma,
	}, nil
}

func (s *Service) sumScores(ctx context.Context, model any, userID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(model).
		Select("COALESCE(SUM(score), 0)").
		Where("author_user_id = ?", userID).
		Scan(&total).Error
	return total, err
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("content service error", attrs...)
}
