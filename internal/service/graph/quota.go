package graph

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// Quota is the account's content publishing usage over the rolling window.
type Quota struct {
	Usage    int `json:"quota_usage"`
	Total    int `json:"quota_total"`
	Duration int `json:"quota_duration"`
}

// Exhausted reports whether usage has reached the known total.
func (q *Quota) Exhausted() bool {
	return q.Total > 0 && q.Usage >= q.Total
}

// PublishingLimit reads content_publishing_limit. It is informational only
// and never blocks publishing.
func (p *Publisher) PublishingLimit(ctx context.Context, accountID string) (*Quota, error) {
	p.logger.Debug("Fetching content publishing limit", zap.String("account_id", accountID))

	resp, err := p.client.Get(ctx, "/"+url.PathEscape(accountID)+"/content_publishing_limit", url.Values{
		"fields": {"quota_usage,config"},
	})
	if err != nil {
		return nil, fmt.Errorf("publishing limit: %w", err)
	}
	if apiErr := resp.Err(); apiErr != nil {
		return nil, apiErr
	}

	var body struct {
		Data []struct {
			QuotaUsage int `json:"quota_usage"`
			Config     struct {
				QuotaTotal    int `json:"quota_total"`
				QuotaDuration int `json:"quota_duration"`
			} `json:"config"`
		} `json:"data"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, errors.New("publishing limit: empty response")
	}

	quota := &Quota{
		Usage:    body.Data[0].QuotaUsage,
		Total:    body.Data[0].Config.QuotaTotal,
		Duration: body.Data[0].Config.QuotaDuration,
	}
	p.logger.Info("Current publishing limit usage",
		zap.Int("quota_usage", quota.Usage),
		zap.Int("quota_total", quota.Total))
	return quota, nil
}

// Quota resolves the account and reads its publishing limit.
func (p *Publisher) Quota(ctx context.Context) (*Quota, error) {
	accountID, err := p.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	return p.PublishingLimit(ctx, accountID)
}
