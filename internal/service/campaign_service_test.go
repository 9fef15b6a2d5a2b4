package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcaster/internal/logger"
	"broadcaster/internal/models"
)

type mockTrigger struct {
	TriggerFunc func(ctx context.Context, family models.Family, id int64) error
	Calls       map[string]int
}

func newMockTrigger() *mockTrigger {
	return &mockTrigger{Calls: make(map[string]int)}
}

func (m *mockTrigger) TriggerDispatch(ctx context.Context, family models.Family, id int64) error {
	m.Calls[string(family)]++
	if m.TriggerFunc != nil {
		return m.TriggerFunc(ctx, family, id)
	}
	return nil
}

func newCampaignService(env *testEnv, trigger DispatchTrigger) *CampaignService {
	return NewCampaignService(env.sms, env.email, env.marketing, env.messages, trigger, logger.Discard())
}

func TestCampaignService_StartTriggersDispatch(t *testing.T) {
	env := newTestEnv()
	trigger := newMockTrigger()
	svc := newCampaignService(env, trigger)
	require.NoError(t, env.sms.Create(context.Background(), &models.SMSCampaign{Message: "x", Status: models.CampaignStatusDraft}))

	require.NoError(t, svc.Start(context.Background(), models.FamilySMS, 1))

	assert.Equal(t, models.CampaignStatusRunning, env.sms.status(1))
	assert.Equal(t, 1, trigger.Calls["sms"])
}

func TestCampaignService_StartFromScheduled(t *testing.T) {
	env := newTestEnv()
	svc := newCampaignService(env, nil)
	require.NoError(t, env.email.Create(context.Background(), &models.EmailCampaign{Status: models.CampaignStatusScheduled}))

	require.NoError(t, svc.Start(context.Background(), models.FamilyEmail, 1))
	assert.Equal(t, models.CampaignStatusRunning, env.email.status(1))
}

func TestCampaignService_TriggerFailureIsNotAnError(t *testing.T) {
	env := newTestEnv()
	trigger := newMockTrigger()
	trigger.TriggerFunc = func(context.Context, models.Family, int64) error { return errors.New("broker unavailable") }
	svc := newCampaignService(env, trigger)
	require.NoError(t, env.marketing.Create(context.Background(), &models.MarketingCampaign{Status: models.CampaignStatusDraft}))

	require.NoError(t, svc.Start(context.Background(), models.FamilyMarketing, 1))
	assert.Equal(t, models.CampaignStatusRunning, env.marketing.status(1))
}

func TestCampaignService_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    models.CampaignStatus
		action  func(*CampaignService, int64) error
		want    models.CampaignStatus
		wantErr bool
	}{
		{"pause running", models.CampaignStatusRunning, pauseSMS, models.CampaignStatusPaused, false},
		{"pause followup", models.CampaignStatusFollowup, pauseSMS, models.CampaignStatusPaused, false},
		{"pause draft", models.CampaignStatusDraft, pauseSMS, models.CampaignStatusDraft, true},
		{"resume paused", models.CampaignStatusPaused, resumeSMS, models.CampaignStatusRunning, false},
		{"resume running", models.CampaignStatusRunning, resumeSMS, models.CampaignStatusRunning, true},
		{"cancel paused", models.CampaignStatusPaused, cancelSMS, models.CampaignStatusCanceled, false},
		{"cancel draft", models.CampaignStatusDraft, cancelSMS, models.CampaignStatusCanceled, false},
		{"cancel completed", models.CampaignStatusCompleted, cancelSMS, models.CampaignStatusCompleted, true},
		{"start running", models.CampaignStatusRunning, startSMS, models.CampaignStatusRunning, true},
		{"start failed", models.CampaignStatusFailed, startSMS, models.CampaignStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			svc := newCampaignService(env, nil)
			require.NoError(t, env.sms.Create(context.Background(), &models.SMSCampaign{Message: "x", Status: tt.from}))

			err := tt.action(svc, 1)

			if tt.wantErr {
				var conflict *ConflictError
				assert.ErrorAs(t, err, &conflict)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, env.sms.status(1))
		})
	}
}

func startSMS(s *CampaignService, id int64) error {
	return s.Start(context.Background(), models.FamilySMS, id)
}

func pauseSMS(s *CampaignService, id int64) error {
	return s.Pause(context.Background(), models.FamilySMS, id)
}

func resumeSMS(s *CampaignService, id int64) error {
	return s.Resume(context.Background(), models.FamilySMS, id)
}

func cancelSMS(s *CampaignService, id int64) error {
	return s.Cancel(context.Background(), models.FamilySMS, id)
}

func TestCampaignService_UnknownCampaign(t *testing.T) {
	svc := newCampaignService(newTestEnv(), nil)

	var notFound *NotFoundError
	assert.ErrorAs(t, svc.Pause(context.Background(), models.FamilyEmail, 9), &notFound)

	_, err := svc.GetStats(context.Background(), models.FamilySMS, 9)
	assert.ErrorAs(t, err, &notFound)
}

func TestCampaignService_UnknownFamily(t *testing.T) {
	svc := newCampaignService(newTestEnv(), nil)

	var validationErr *ValidationError
	assert.ErrorAs(t, svc.Start(context.Background(), models.Family("fax"), 1), &validationErr)
	_, err := svc.GetStats(context.Background(), models.Family("fax"), 1)
	assert.ErrorAs(t, err, &validationErr)
}

func TestCampaignService_GetStats(t *testing.T) {
	env := newTestEnv()
	svc := newCampaignService(env, nil)
	require.NoError(t, env.suppression.AddBlacklist(context.Background(), "+8613800000003", ""))
	id := runningSMS(env, &models.SMSCampaign{
		Message:   "hi",
		Targeting: models.Targeting{Recipients: []string{"+8613800000001", "+8613800000002", "+8613800000003"}},
	})
	require.NoError(t, env.dispatcher.Dispatch(context.Background(), models.FamilySMS, id))

	_, err := env.reconciliation.ApplyStatus(context.Background(), models.ChannelSMS, StatusCallback{
		LocalID: "1", Update: models.StatusUpdate{Status: models.MessageStatusRead},
	})
	require.NoError(t, err)

	stats, err := svc.GetStats(context.Background(), models.FamilySMS, id)
	require.NoError(t, err)
	assert.Equal(t, &models.CampaignStats{Total: 3, Sent: 1, Delivered: 1, Blocked: 1, Read: 1}, stats)

	// Rows of another campaign are not counted
	other := runningSMS(env, &models.SMSCampaign{Message: "x", Targeting: models.Targeting{Recipients: []string{"+8613800000009"}}})
	require.NoError(t, env.dispatcher.Dispatch(context.Background(), models.FamilySMS, other))
	stats, err = svc.GetStats(context.Background(), models.FamilySMS, id)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
}
