// internal/repository/campaign_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/models"
)

type CampaignRepository struct {
	db DBTX
}

func NewCampaignRepository(db DBTX) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, channel, tier_filter, score_min,
	message_template, subject, status, total_recipients, sent_count,
	failed_count, responded_count, booked_count, created_at, sent_at`

func scanCampaign(row *sql.Row) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Channel, &c.TierFilter, &c.ScoreMin,
		&c.MessageTemplate, &c.Subject, &c.Status, &c.TotalRecipients,
		&c.SentCount, &c.FailedCount, &c.RespondedCount, &c.BookedCount,
		&c.CreatedAt, &c.SentAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) (*models.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO campaigns (
			name, channel, tier_filter, score_min, message_template,
			subject, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, 'draft', NOW())
		RETURNING `+campaignColumns,
		c.Name, c.Channel, c.TierFilter, c.ScoreMin, c.MessageTemplate, c.Subject,
	)
	saved, err := scanCampaign(row)
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("campaign.create", err)
	}
	return saved, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("campaign", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("campaign.get", err)
	}
	return c, nil
}

// TransitionToSending is the draft -> sending compare-and-swap. The WHERE
// clause makes the conditional update atomic in the database; a second
// caller matches zero rows and gets AlreadySending. Multiple process
// instances may race this safely.
func (r *CampaignRepository) TransitionToSending(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'sending', sent_at = NOW()
		WHERE id = $1 AND status = 'draft'`, id)
	if err != nil {
		return apperrors.NewQueryExecutionError("campaign.cas_sending", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewQueryExecutionError("campaign.cas_sending", err)
	}
	if affected == 0 {
		// Distinguish a lost race from a missing campaign.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return apperrors.NewAlreadySendingError(id)
	}
	return nil
}

// SetTotalRecipients pins the eligibility snapshot size at submit time.
func (r *CampaignRepository) SetTotalRecipients(ctx context.Context, id int64, total int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET total_recipients = $2 WHERE id = $1`, id, total)
	if err != nil {
		return apperrors.NewQueryExecutionError("campaign.set_total", err)
	}
	return nil
}

// FinishDispatch recomputes the aggregate counters from the message set and
// records the terminal campaign status.
func (r *CampaignRepository) FinishDispatch(ctx context.Context, id int64, status models.CampaignStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET
			status      = $2,
			sent_count  = (SELECT COUNT(*) FROM outreach_messages
			               WHERE campaign_id = $1 AND status IN ('sent', 'delivered')),
			failed_count = (SELECT COUNT(*) FROM outreach_messages
			                WHERE campaign_id = $1 AND status IN ('failed', 'bounced', 'blocked'))
		WHERE id = $1`, id, status)
	if err != nil {
		return apperrors.NewQueryExecutionError("campaign.finish", err)
	}
	return nil
}

// incrementResponded bumps the campaign's responded counter when an inbound
// reply is attributed to one of its messages.
func incrementResponded(ctx context.Context, db DBTX, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE campaigns SET responded_count = responded_count + 1 WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewQueryExecutionError("campaign.inc_responded", err)
	}
	return nil
}

// CampaignFilter narrows the campaign listing.
type CampaignFilter struct {
	Status  string
	Channel string
	Limit   int
	Offset  int
}

func (r *CampaignRepository) List(ctx context.Context, f CampaignFilter) ([]models.Campaign, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	n := 1

	if f.Status != "" {
		where += ` AND status = $` + strconv.Itoa(n)
		args = append(args, f.Status)
		n++
	}
	if f.Channel != "" {
		where += ` AND channel = $` + strconv.Itoa(n)
		args = append(args, f.Channel)
		n++
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.NewQueryExecutionError("campaign.count", err)
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		` ORDER BY id DESC LIMIT $` + strconv.Itoa(n) + ` OFFSET $` + strconv.Itoa(n+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.NewQueryExecutionError("campaign.list", err)
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Channel, &c.TierFilter, &c.ScoreMin,
			&c.MessageTemplate, &c.Subject, &c.Status, &c.TotalRecipients,
			&c.SentCount, &c.FailedCount, &c.RespondedCount, &c.BookedCount,
			&c.CreatedAt, &c.SentAt,
		); err != nil {
			return nil, 0, apperrors.NewQueryExecutionError("campaign.list_scan", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.NewQueryExecutionError("campaign.list_rows", err)
	}
	return campaigns, total, nil
}
