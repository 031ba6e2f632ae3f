package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/lolify/internal/models"
	"github.com/ifuryst/lolify/pkg/util"
)

// ErrDuplicatePost is returned when a Post with the same content hash
// already exists.
var ErrDuplicatePost = errors.New("post with this content hash already exists")

// PostStore persists published posts and the accounts seen by the webhook.
type PostStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewPostStore(db *gorm.DB, logger *zap.Logger) *PostStore {
	return &PostStore{db: db, logger: logger}
}

// FindByHash returns the Post for hash, or nil when there is none.
func (s *PostStore) FindByHash(ctx context.Context, hash string) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).Where("content_hash = ?", hash).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find post by hash: %w", err)
	}
	return &post, nil
}

// Create records a Post. A concurrent insert of the same hash yields
// ErrDuplicatePost.
func (s *PostStore) Create(ctx context.Context, caption, hash, mediaID string) (*models.Post, error) {
	post := &models.Post{
		Caption:     util.TruncateRunes(caption, models.CaptionMaxLength),
		ContentHash: hash,
		MediaID:     mediaID,
	}

	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePost, hash)
		}
		return nil, fmt.Errorf("create post: %w", err)
	}

	s.logger.Info("Recorded post", zap.Uint("post_id", post.ID), zap.String("hash", hash))
	return post, nil
}

// EnsureUser returns the User for accountID, creating it on first sight.
func (s *PostStore) EnsureUser(ctx context.Context, accountID string) (*models.User, error) {
	user := models.User{PlatformAccountID: accountID}
	err := s.db.WithContext(ctx).
		Where(models.User{PlatformAccountID: accountID}).
		FirstOrCreate(&user).Error
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a creation race; the row exists now.
			if err := s.db.WithContext(ctx).Where("platform_account_id = ?", accountID).First(&user).Error; err != nil {
				return nil, fmt.Errorf("load user: %w", err)
			}
			return &user, nil
		}
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return &user, nil
}

// ListPosts returns posts newest first.
func (s *PostStore) ListPosts(ctx context.Context, limit, offset int) ([]models.Post, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var posts []models.Post
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

func (s *PostStore) CountPosts(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Post{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Drivers without error translation still report it in the message.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
