package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcaster/internal/models"
)

func newMockDB(t *testing.T) (*messageRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &messageRepository{db: db}, mock
}

func TestMessageRepository_Create(t *testing.T) {
	repo, mock := newMockDB(t)
	now := time.Now()
	campaignID := int64(9)

	mock.ExpectQuery("INSERT INTO messages").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(41, now, now))

	msg := &models.Message{
		Channel:    models.ChannelSMS,
		Direction:  models.DirectionOutbound,
		ToAddress:  "+8612345",
		Body:       "Hi",
		Status:     models.MessageStatusQueued,
		CampaignID: &campaignID,
	}
	require.NoError(t, repo.Create(context.Background(), msg))

	assert.Equal(t, int64(41), msg.ID)
	assert.Equal(t, now, msg.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_Create_DuplicateInbound(t *testing.T) {
	repo, mock := newMockDB(t)

	mock.ExpectQuery("INSERT INTO messages").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.Message{Direction: models.DirectionInbound})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMessageRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newMockDB(t)

	mock.ExpectQuery("FROM messages WHERE id = ").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageRepository_GetStepMessage_NotFound(t *testing.T) {
	repo, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE campaign_step_id = $1 AND customer_id = $2 AND direction = 'outbound'")).
		WithArgs(int64(4), int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetStepMessage(context.Background(), 4, 11)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_RecordSendResult_OnlyFromQueued(t *testing.T) {
	repo, mock := newMockDB(t)
	sid := "SM123"

	mock.ExpectExec(regexp.QuoteMeta("SET status = CASE WHEN status = 'queued' THEN $1 ELSE status END")).
		WithArgs("sent", &sid, nil, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordSendResult(context.Background(), 3, models.MessageStatusSent, &sid, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_RecordSendResult_Missing(t *testing.T) {
	repo, mock := newMockDB(t)

	mock.ExpectExec("UPDATE messages").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RecordSendResult(context.Background(), 3, models.MessageStatusSent, nil, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageRepository_UpdateReconciled_KeepsFirstReadAt(t *testing.T) {
	repo, mock := newMockDB(t)
	readAt := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("read_at = COALESCE(read_at, $6)")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg := &models.Message{ID: 8, Status: models.MessageStatusRead, ReadAt: &readAt}
	ok, err := repo.UpdateReconciled(context.Background(), msg, models.MessageStatusDelivered)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_UpdateReconciled_GuardsOnExpectedStatus(t *testing.T) {
	repo, mock := newMockDB(t)
	msg := &models.Message{ID: 8, Status: models.MessageStatusDelivered}

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $7 AND status = $8")).
		WithArgs(models.MessageStatusDelivered, nil, nil, nil, nil, nil, int64(8), models.MessageStatusSent).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateReconciled(context.Background(), msg, models.MessageStatusSent)
	require.NoError(t, err)
	assert.False(t, ok, "a concurrent writer already moved the status")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_AppendEvent_Duplicate(t *testing.T) {
	repo, mock := newMockDB(t)

	mock.ExpectExec("ON CONFLICT \\(message_id, status\\) DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	appended, err := repo.AppendEvent(context.Background(), 1, models.MessageStatusDelivered, time.Now())
	require.NoError(t, err)
	assert.False(t, appended)
}

func TestMessageRepository_AttemptedAddresses(t *testing.T) {
	repo, mock := newMockDB(t)
	campaignID := int64(2)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT to_address FROM messages WHERE direction = 'outbound' AND channel = $1 AND campaign_id = $2 AND followup_step = $3")).
		WithArgs("sms", int64(2), 0).
		WillReturnRows(sqlmock.NewRows([]string{"to_address"}).AddRow("+8611").AddRow("+8622"))

	attempted, err := repo.AttemptedAddresses(context.Background(), MessageScope{
		Channel:    models.ChannelSMS,
		CampaignID: &campaignID,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"+8611": true, "+8622": true}, attempted)
}

func TestScopeFilter_AnyFollowupStep(t *testing.T) {
	marketingID := int64(4)
	where, args := scopeFilter(MessageScope{MarketingCampaignID: &marketingID, FollowupStep: -1})

	assert.Equal(t, "direction = 'outbound' AND marketing_campaign_id = $1", where)
	assert.Equal(t, []interface{}{int64(4)}, args)
}

func TestMessageRepository_GetStats(t *testing.T) {
	repo, mock := newMockDB(t)
	campaignID := int64(2)

	mock.ExpectQuery("COUNT\\(\\*\\) AS total").
		WillReturnRows(sqlmock.NewRows([]string{"total", "queued", "sent", "delivered", "failed", "blocked", "read"}).
			AddRow(10, 1, 3, 4, 1, 1, 2))

	stats, err := repo.GetStats(context.Background(), MessageScope{CampaignID: &campaignID, FollowupStep: -1})
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStats{Total: 10, Queued: 1, Sent: 3, Delivered: 4, Failed: 1, Blocked: 1, Read: 2}, *stats)
}
