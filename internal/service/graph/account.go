package graph

import (
	"context"
	"net/url"

	"go.uber.org/zap"
)

// AccountResolver looks up the Instagram Business account linked to a
// Facebook Page through the page-scoped host.
type AccountResolver struct {
	client *Client
	logger *zap.Logger
}

func NewAccountResolver(client *Client, logger *zap.Logger) *AccountResolver {
	return &AccountResolver{client: client, logger: logger}
}

// Resolve returns the linked account id, or "" when the page has no linked
// account or the API refuses the lookup. Only transport failures are errors.
func (r *AccountResolver) Resolve(ctx context.Context, pageID string) (string, error) {
	r.logger.Debug("Fetching Instagram Business Account ID", zap.String("page_id", pageID))

	resp, err := r.client.Get(ctx, "/"+url.PathEscape(pageID), url.Values{
		"fields": {"instagram_business_account"},
	})
	if err != nil {
		return "", err
	}

	if !resp.OK() {
		fields := []zap.Field{zap.String("page_id", pageID), zap.Int("status_code", resp.StatusCode)}
		if apiErr := resp.Err(); apiErr != nil {
			fields = append(fields, zap.String("error", apiErr.Message))
		}
		r.logger.Error("Failed to get Instagram ID", fields...)
		return "", nil
	}

	var page struct {
		InstagramBusinessAccount *struct {
			ID string `json:"id"`
		} `json:"instagram_business_account"`
	}
	if err := resp.Decode(&page); err != nil {
		r.logger.Error("Failed to decode page response", zap.String("page_id", pageID), zap.Error(err))
		return "", nil
	}

	if page.InstagramBusinessAccount == nil || page.InstagramBusinessAccount.ID == "" {
		r.logger.Warn("No Instagram Business Account linked to the Facebook Page", zap.String("page_id", pageID))
		return "", nil
	}

	return page.InstagramBusinessAccount.ID, nil
}

// StaticAccount is an AccountSource that always returns the same id.
type StaticAccount string

func (s StaticAccount) Resolve(context.Context, string) (string, error) {
	return string(s), nil
}
