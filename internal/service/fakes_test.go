package service

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"broadcaster/internal/lock"
	"broadcaster/internal/logger"
	"broadcaster/internal/models"
	"broadcaster/internal/repository"
	"broadcaster/internal/transport"
)

// statusBook is the in-memory StatusStore shared by the campaign fakes
type statusBook struct {
	mu         sync.Mutex
	statuses   map[int64]models.CampaignStatus
	errTexts   map[int64]string
	scheduleAt map[int64]time.Time

	Calls map[string]int
}

func newStatusBook() *statusBook {
	return &statusBook{
		statuses:   make(map[int64]models.CampaignStatus),
		errTexts:   make(map[int64]string),
		scheduleAt: make(map[int64]time.Time),
		Calls:      make(map[string]int),
	}
}

func (b *statusBook) set(id int64, status models.CampaignStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[id] = status
}

func (b *statusBook) status(id int64) models.CampaignStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statuses[id]
}

func (b *statusBook) errText(id int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errTexts[id]
}

func (b *statusBook) GetStatus(_ context.Context, id int64) (models.CampaignStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls["GetStatus"]++
	status, ok := b.statuses[id]
	if !ok {
		return "", fmt.Errorf("campaign %d: %w", id, repository.ErrNotFound)
	}
	return status, nil
}

func (b *statusBook) Transition(_ context.Context, id int64, from []models.CampaignStatus, to models.CampaignStatus, errText *string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls["Transition"]++
	current, ok := b.statuses[id]
	if !ok || !slices.Contains(from, current) {
		return false, nil
	}
	b.statuses[id] = to
	if errText != nil {
		b.errTexts[id] = *errText
	}
	return true, nil
}

func (b *statusBook) PromoteDue(_ context.Context, now time.Time) ([]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls["PromoteDue"]++
	var promoted []int64
	for id, at := range b.scheduleAt {
		if b.statuses[id] == models.CampaignStatusScheduled && !at.After(now) {
			b.statuses[id] = models.CampaignStatusRunning
			promoted = append(promoted, id)
		}
	}
	slices.Sort(promoted)
	return promoted, nil
}

func (b *statusBook) ListIDsByStatus(_ context.Context, status models.CampaignStatus) ([]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls["ListIDsByStatus"]++
	var ids []int64
	for id, s := range b.statuses {
		if s == status {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

type fakeSMSCampaigns struct {
	*statusBook
	campaigns map[int64]*models.SMSCampaign
}

func newFakeSMSCampaigns() *fakeSMSCampaigns {
	return &fakeSMSCampaigns{statusBook: newStatusBook(), campaigns: make(map[int64]*models.SMSCampaign)}
}

func (f *fakeSMSCampaigns) Create(_ context.Context, c *models.SMSCampaign) error {
	if c.ID == 0 {
		c.ID = int64(len(f.campaigns) + 1)
	}
	f.campaigns[c.ID] = c
	f.set(c.ID, c.Status)
	return nil
}

func (f *fakeSMSCampaigns) GetByID(_ context.Context, id int64) (*models.SMSCampaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("sms campaign %d: %w", id, repository.ErrNotFound)
	}
	cp := *c
	cp.Status = f.status(id)
	return &cp, nil
}

type fakeEmailCampaigns struct {
	*statusBook
	campaigns map[int64]*models.EmailCampaign
}

func newFakeEmailCampaigns() *fakeEmailCampaigns {
	return &fakeEmailCampaigns{statusBook: newStatusBook(), campaigns: make(map[int64]*models.EmailCampaign)}
}

func (f *fakeEmailCampaigns) Create(_ context.Context, c *models.EmailCampaign) error {
	if c.ID == 0 {
		c.ID = int64(len(f.campaigns) + 1)
	}
	f.campaigns[c.ID] = c
	f.set(c.ID, c.Status)
	return nil
}

func (f *fakeEmailCampaigns) GetByID(_ context.Context, id int64) (*models.EmailCampaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("email campaign %d: %w", id, repository.ErrNotFound)
	}
	cp := *c
	cp.Status = f.status(id)
	return &cp, nil
}

type fakeMarketing struct {
	*statusBook
	campaigns  map[int64]*models.MarketingCampaign
	steps      map[int64][]*models.CampaignStep
	executions []*models.StepExecution
	states     map[int64]map[int64]string
	now        func() time.Time
}

func newFakeMarketing() *fakeMarketing {
	return &fakeMarketing{
		statusBook: newStatusBook(),
		campaigns:  make(map[int64]*models.MarketingCampaign),
		steps:      make(map[int64][]*models.CampaignStep),
		states:     make(map[int64]map[int64]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (f *fakeMarketing) Create(_ context.Context, c *models.MarketingCampaign) error {
	if c.ID == 0 {
		c.ID = int64(len(f.campaigns) + 1)
	}
	f.campaigns[c.ID] = c
	f.set(c.ID, c.Status)
	return nil
}

func (f *fakeMarketing) GetByID(_ context.Context, id int64) (*models.MarketingCampaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("marketing campaign %d: %w", id, repository.ErrNotFound)
	}
	cp := *c
	cp.Status = f.status(id)
	return &cp, nil
}

func (f *fakeMarketing) CreateStep(_ context.Context, step *models.CampaignStep) error {
	total := 0
	for _, s := range f.steps {
		total += len(s)
	}
	step.ID = int64(total + 1)
	f.steps[step.CampaignID] = append(f.steps[step.CampaignID], step)
	slices.SortFunc(f.steps[step.CampaignID], func(a, b *models.CampaignStep) int { return a.OrderNo - b.OrderNo })
	return nil
}

func (f *fakeMarketing) ListSteps(_ context.Context, campaignID int64) ([]*models.CampaignStep, error) {
	return f.steps[campaignID], nil
}

func (f *fakeMarketing) CreateExecution(_ context.Context, e *models.StepExecution) error {
	f.Calls["CreateExecution"]++
	for _, existing := range f.executions {
		if existing.StepID == e.StepID && existing.CustomerID == e.CustomerID {
			return fmt.Errorf("step %d for customer %d: %w", e.StepID, e.CustomerID, repository.ErrDuplicate)
		}
	}
	e.ID = int64(len(f.executions) + 1)
	e.CreatedAt = f.now()
	f.executions = append(f.executions, e)
	return nil
}

func (f *fakeMarketing) ListExecutions(_ context.Context, campaignID int64) ([]*models.StepExecution, error) {
	var out []*models.StepExecution
	for _, e := range f.executions {
		if e.CampaignID == campaignID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeMarketing) ListCustomerStates(_ context.Context, campaignID int64) (map[int64]string, error) {
	states := make(map[int64]string)
	for k, v := range f.states[campaignID] {
		states[k] = v
	}
	return states, nil
}

func (f *fakeMarketing) SetCustomerState(_ context.Context, campaignID, customerID int64, status string) error {
	if f.states[campaignID] == nil {
		f.states[campaignID] = make(map[int64]string)
	}
	f.states[campaignID][customerID] = status
	return nil
}

// fakeMessages is an in-memory ledger with the same filtering rules as the SQL repository
type fakeMessages struct {
	mu       sync.Mutex
	messages []*models.Message
	events   map[int64][]models.MessageStatus
	now      func() time.Time

	CreateFunc       func(ctx context.Context, message *models.Message) error
	// BeforeUpdateFunc runs under the lock ahead of the status compare, so a
	// test can commit a competing write to the stored row
	BeforeUpdateFunc func(stored *models.Message)
	Calls            map[string]int
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		events: make(map[int64][]models.MessageStatus),
		now:    func() time.Time { return time.Now().UTC() },
		Calls:  make(map[string]int),
	}
}

func (f *fakeMessages) Create(ctx context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Create"]++
	if f.CreateFunc != nil {
		if err := f.CreateFunc(ctx, m); err != nil {
			return err
		}
	}
	if m.Direction == models.DirectionInbound && m.ProviderMessageID != nil {
		for _, existing := range f.messages {
			if existing.Direction == models.DirectionInbound && existing.ProviderMessageID != nil &&
				*existing.ProviderMessageID == *m.ProviderMessageID {
				return fmt.Errorf("message with provider id: %w", repository.ErrDuplicate)
			}
		}
	}
	m.ID = int64(len(f.messages) + 1)
	m.CreatedAt = f.now()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	f.messages = append(f.messages, &cp)
	return nil
}

func (f *fakeMessages) GetByID(_ context.Context, id int64) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id < 1 || int(id) > len(f.messages) {
		return nil, fmt.Errorf("message %d: %w", id, repository.ErrNotFound)
	}
	cp := *f.messages[id-1]
	return &cp, nil
}

func (f *fakeMessages) GetByProviderMessageID(_ context.Context, pid string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ProviderMessageID != nil && *m.ProviderMessageID == pid {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", pid, repository.ErrNotFound)
}

func (f *fakeMessages) GetStepMessage(_ context.Context, stepID, customerID int64) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		m := f.messages[i]
		if m.Direction == models.DirectionOutbound && m.CampaignStepID != nil && *m.CampaignStepID == stepID &&
			m.CustomerID != nil && *m.CustomerID == customerID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("message for step %d customer %d: %w", stepID, customerID, repository.ErrNotFound)
}

func (f *fakeMessages) RecordSendResult(_ context.Context, id int64, status models.MessageStatus, pid, errText *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["RecordSendResult"]++
	m := f.messages[id-1]
	if m.Status == models.MessageStatusQueued {
		m.Status = status
	}
	if m.ProviderMessageID == nil {
		m.ProviderMessageID = pid
	}
	if errText != nil {
		m.Error = errText
	}
	return nil
}

func (f *fakeMessages) UpdateReconciled(_ context.Context, message *models.Message, expected models.MessageStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["UpdateReconciled"]++
	stored := f.messages[message.ID-1]
	if f.BeforeUpdateFunc != nil {
		f.BeforeUpdateFunc(stored)
	}
	if stored.Status != expected {
		return false, nil
	}
	cp := *message
	if stored.ReadAt != nil {
		cp.ReadAt = stored.ReadAt
	}
	f.messages[message.ID-1] = &cp
	return true, nil
}

func (f *fakeMessages) AppendEvent(_ context.Context, id int64, status models.MessageStatus, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slices.Contains(f.events[id], status) {
		return false, nil
	}
	f.events[id] = append(f.events[id], status)
	return true, nil
}

func inScope(m *models.Message, scope repository.MessageScope) bool {
	if m.Direction != models.DirectionOutbound {
		return false
	}
	if scope.Channel != "" && m.Channel != scope.Channel {
		return false
	}
	if scope.CampaignID != nil && (m.CampaignID == nil || *m.CampaignID != *scope.CampaignID) {
		return false
	}
	if scope.MarketingCampaignID != nil && (m.MarketingCampaignID == nil || *m.MarketingCampaignID != *scope.MarketingCampaignID) {
		return false
	}
	return scope.FollowupStep < 0 || m.FollowupStep == scope.FollowupStep
}

func (f *fakeMessages) AttemptedAddresses(_ context.Context, scope repository.MessageScope) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempted := make(map[string]bool)
	for _, m := range f.messages {
		if inScope(m, scope) {
			attempted[m.ToAddress] = true
		}
	}
	return attempted, nil
}

func (f *fakeMessages) hasChild(id int64) bool {
	for _, m := range f.messages {
		if m.ParentMessageID != nil && *m.ParentMessageID == id {
			return true
		}
	}
	return false
}

func (f *fakeMessages) initialEmail(m *models.Message, campaignID int64) bool {
	return m.CampaignID != nil && *m.CampaignID == campaignID && m.Channel == models.ChannelEmail &&
		m.Direction == models.DirectionOutbound && m.FollowupStep == 0 && !f.hasChild(m.ID)
}

func (f *fakeMessages) ListFollowupCandidates(_ context.Context, campaignID int64, createdBefore time.Time) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, m := range f.messages {
		switch m.Status {
		case models.MessageStatusQueued, models.MessageStatusFailed, models.MessageStatusBlocked, models.MessageStatusBounced:
			continue
		}
		if f.initialEmail(m, campaignID) && !m.CreatedAt.After(createdBefore) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeMessages) CountPendingFollowups(_ context.Context, campaignID int64, createdAfter time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, m := range f.messages {
		switch m.Status {
		case models.MessageStatusFailed, models.MessageStatusBlocked, models.MessageStatusBounced:
			continue
		}
		if f.initialEmail(m, campaignID) && m.CreatedAt.After(createdAfter) {
			count++
		}
	}
	return count, nil
}

func (f *fakeMessages) GetStats(_ context.Context, scope repository.MessageScope) (*models.CampaignStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &models.CampaignStats{}
	for _, m := range f.messages {
		if !inScope(m, scope) {
			continue
		}
		stats.Total++
		switch m.Status {
		case models.MessageStatusQueued:
			stats.Queued++
		case models.MessageStatusSent, models.MessageStatusAccepted, models.MessageStatusSending:
			stats.Sent++
		case models.MessageStatusDelivered, models.MessageStatusRead, models.MessageStatusOpened:
			stats.Delivered++
		case models.MessageStatusFailed, models.MessageStatusUndelivered, models.MessageStatusBounced:
			stats.Failed++
		case models.MessageStatusBlocked:
			stats.Blocked++
		}
		if m.ReadAt != nil {
			stats.Read++
		}
	}
	return stats, nil
}

// outbound returns every outbound row in insertion order
func (f *fakeMessages) outbound() []*models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, m := range f.messages {
		if m.Direction == models.DirectionOutbound {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out
}

func (f *fakeMessages) age(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		m.CreatedAt = m.CreatedAt.Add(-d)
	}
}

type fakeCustomers struct {
	customers []*models.Customer
	groups    map[int64][]int64

	Calls map[string]int
}

func newFakeCustomers(customers ...*models.Customer) *fakeCustomers {
	return &fakeCustomers{customers: customers, groups: make(map[int64][]int64), Calls: make(map[string]int)}
}

func (f *fakeCustomers) Create(_ context.Context, c *models.Customer) error {
	c.ID = int64(len(f.customers) + 1)
	f.customers = append(f.customers, c)
	return nil
}

func (f *fakeCustomers) GetByID(_ context.Context, id int64) (*models.Customer, error) {
	for _, c := range f.customers {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("customer %d: %w", id, repository.ErrNotFound)
}

func (f *fakeCustomers) ListByIDs(_ context.Context, ids []int64) ([]*models.Customer, error) {
	var out []*models.Customer
	for _, id := range ids {
		for _, c := range f.customers {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (f *fakeCustomers) ListAll(context.Context) ([]*models.Customer, error) {
	return f.customers, nil
}

func (f *fakeCustomers) ListByGroupIDs(_ context.Context, groupIDs []int64) ([]*models.Customer, error) {
	var out []*models.Customer
	for _, gid := range groupIDs {
		ids, _ := f.ListByIDs(context.Background(), f.groups[gid])
		out = append(out, ids...)
	}
	return out, nil
}

func (f *fakeCustomers) ListByTags(_ context.Context, tags []string) ([]*models.Customer, error) {
	var out []*models.Customer
	for _, c := range f.customers {
		for _, t := range tags {
			if slices.Contains(c.Tags, t) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeCustomers) AddToGroup(_ context.Context, _ string, customerID int64) (int64, error) {
	f.groups[1] = append(f.groups[1], customerID)
	return 1, nil
}

func (f *fakeCustomers) RecordSend(_ context.Context, id int64, channel models.Channel, _ models.MessageStatus, counted bool, marketingID *int64, at time.Time) error {
	f.Calls["RecordSend"]++
	c, err := f.GetByID(context.Background(), id)
	if err != nil {
		return err
	}
	if counted {
		switch channel {
		case models.ChannelSMS:
			c.SMSSentCount++
		case models.ChannelWhatsApp:
			c.WhatsAppSentCount++
		case models.ChannelEmail:
			c.EmailSentCount++
		}
	}
	if marketingID != nil {
		c.HasMarketed = true
		c.LastCampaignID = marketingID
		c.LastMarketedAt = &at
	}
	return nil
}

func (f *fakeCustomers) UpdateLastStatus(_ context.Context, id int64, channel models.Channel, status models.MessageStatus) error {
	f.Calls["UpdateLastStatus"]++
	c, err := f.GetByID(context.Background(), id)
	if err != nil {
		return err
	}
	s := string(status)
	switch channel {
	case models.ChannelSMS:
		c.LastSMSStatus = &s
	case models.ChannelWhatsApp:
		c.LastWhatsAppStatus = &s
	case models.ChannelEmail:
		c.LastEmailStatus = &s
	}
	return nil
}

type fakeContacts struct {
	contacts []*models.Contact
	groups   map[int64][]int64
}

func newFakeContacts(contacts ...*models.Contact) *fakeContacts {
	return &fakeContacts{contacts: contacts, groups: make(map[int64][]int64)}
}

func (f *fakeContacts) Create(_ context.Context, c *models.Contact) error {
	c.ID = int64(len(f.contacts) + 1)
	f.contacts = append(f.contacts, c)
	return nil
}

func (f *fakeContacts) AddToGroup(_ context.Context, _ string, contactID int64) (int64, error) {
	f.groups[1] = append(f.groups[1], contactID)
	return 1, nil
}

func (f *fakeContacts) ListByGroupIDs(_ context.Context, groupIDs []int64) ([]*models.Contact, error) {
	var out []*models.Contact
	for _, gid := range groupIDs {
		for _, id := range f.groups[gid] {
			for _, c := range f.contacts {
				if c.ID == id {
					out = append(out, c)
				}
			}
		}
	}
	return out, nil
}

func (f *fakeContacts) ListByTags(_ context.Context, tags []string) ([]*models.Contact, error) {
	var out []*models.Contact
	for _, c := range f.contacts {
		for _, t := range tags {
			if slices.Contains(c.Tags, t) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

type fakeSuppression struct {
	mu        sync.Mutex
	optOuts   map[string]string
	blacklist map[string]bool
}

func newFakeSuppression() *fakeSuppression {
	return &fakeSuppression{optOuts: make(map[string]string), blacklist: make(map[string]bool)}
}

func (f *fakeSuppression) Lookup(_ context.Context, address string) (models.SuppressionReason, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blacklist[address] {
		return models.SuppressionBlacklist, nil
	}
	if _, ok := f.optOuts[address]; ok {
		return models.SuppressionOptOut, nil
	}
	return models.SuppressionNone, nil
}

func (f *fakeSuppression) AddOptOut(_ context.Context, address, reason, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.optOuts[address] = reason
	return nil
}

func (f *fakeSuppression) RemoveOptOut(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.optOuts, address)
	return nil
}

func (f *fakeSuppression) AddBlacklist(_ context.Context, address, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blacklist[address] = true
	return nil
}

type fakeRules struct {
	rules []*models.KeywordRule
}

func (f *fakeRules) Create(_ context.Context, rule *models.KeywordRule) error {
	rule.ID = int64(len(f.rules) + 1)
	f.rules = append([]*models.KeywordRule{rule}, f.rules...)
	return nil
}

func (f *fakeRules) ListEnabled(context.Context) ([]*models.KeywordRule, error) {
	var out []*models.KeywordRule
	for _, r := range f.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeTemplates struct {
	templates map[int64]*models.Template
}

func (f *fakeTemplates) Create(_ context.Context, t *models.Template) error {
	if f.templates == nil {
		f.templates = make(map[int64]*models.Template)
	}
	t.ID = int64(len(f.templates) + 1)
	f.templates[t.ID] = t
	return nil
}

func (f *fakeTemplates) GetByID(_ context.Context, id int64) (*models.Template, error) {
	t, ok := f.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %d: %w", id, repository.ErrNotFound)
	}
	return t, nil
}

// fakeTransport records every provider request. The Func fields override the default success.
type fakeTransport struct {
	mu       sync.Mutex
	messages []transport.MessageRequest
	emails   []transport.EmailRequest

	SendMessageFunc func(ctx context.Context, req transport.MessageRequest) (*transport.SendResult, error)
	SendEmailFunc   func(ctx context.Context, req transport.EmailRequest) (*transport.SendResult, error)
	Calls           map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{Calls: make(map[string]int)}
}

func (f *fakeTransport) SendMessage(ctx context.Context, req transport.MessageRequest) (*transport.SendResult, error) {
	f.mu.Lock()
	f.Calls["SendMessage"]++
	f.messages = append(f.messages, req)
	n := len(f.messages)
	f.mu.Unlock()
	if f.SendMessageFunc != nil {
		return f.SendMessageFunc(ctx, req)
	}
	return &transport.SendResult{ProviderMessageID: fmt.Sprintf("SM%04d", n), Status: "queued"}, nil
}

func (f *fakeTransport) SendEmail(ctx context.Context, req transport.EmailRequest) (*transport.SendResult, error) {
	f.mu.Lock()
	f.Calls["SendEmail"]++
	f.emails = append(f.emails, req)
	n := len(f.emails)
	f.mu.Unlock()
	if f.SendEmailFunc != nil {
		return f.SendEmailFunc(ctx, req)
	}
	return &transport.SendResult{ProviderMessageID: fmt.Sprintf("sg%04d", n), Status: "accepted"}, nil
}

func (f *fakeTransport) FetchStatus(_ context.Context, pid string) (*transport.StatusResult, error) {
	return &transport.StatusResult{ProviderMessageID: pid, Status: "delivered"}, nil
}

func (f *fakeTransport) ValidateSignature(string, url.Values, string) bool { return true }

func (f *fakeTransport) VerifyEventSignature([]byte, string, string) bool { return true }

func (f *fakeTransport) sentMessages() []transport.MessageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.messages)
}

func (f *fakeTransport) sentEmails() []transport.EmailRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.emails)
}

// testEnv wires the full send path over in-memory fakes
type testEnv struct {
	sms         *fakeSMSCampaigns
	email       *fakeEmailCampaigns
	marketing   *fakeMarketing
	messages    *fakeMessages
	customers   *fakeCustomers
	contacts    *fakeContacts
	suppression *fakeSuppression
	rules       *fakeRules
	templates   *fakeTemplates
	transport   *fakeTransport

	normalizer     *AddressNormalizer
	resolver       *RecipientResolver
	outbound       *Outbound
	marketingSvc   *MarketingService
	dispatcher     *Dispatcher
	reconciliation *ReconciliationService
}

var testIdentity = SenderIdentity{
	SMSFrom:      "+15550001111",
	WhatsAppFrom: "+15550002222",
	EmailFrom:    "news@example.com",
}

func newTestEnv() *testEnv {
	return newTestEnvWith(testIdentity, true)
}

func newTestEnvWith(identity SenderIdentity, withTransport bool) *testEnv {
	env := &testEnv{
		sms:         newFakeSMSCampaigns(),
		email:       newFakeEmailCampaigns(),
		marketing:   newFakeMarketing(),
		messages:    newFakeMessages(),
		customers:   newFakeCustomers(),
		contacts:    newFakeContacts(),
		suppression: newFakeSuppression(),
		rules:       &fakeRules{},
		templates:   &fakeTemplates{},
		transport:   newFakeTransport(),
	}
	log := logger.Discard()

	env.normalizer = NewAddressNormalizer("86")
	env.resolver = NewRecipientResolver(env.normalizer, env.contacts, env.customers, env.suppression, log)
	templates := NewTemplateService(true, "Reply STOP to unsubscribe.")

	var messaging transport.MessagingTransport
	var email transport.EmailTransport
	if withTransport {
		messaging, email = env.transport, env.transport
	}
	env.outbound = NewOutbound(env.resolver, templates, env.messages, env.customers,
		messaging, email, identity, "https://hooks.example.com", log)
	env.marketingSvc = NewMarketingService(env.marketing, env.customers, env.templates, env.messages,
		env.outbound.Senders(), env.normalizer, log)
	env.dispatcher = NewDispatcher(env.sms, env.email, env.templates, env.messages, env.customers,
		env.resolver, env.outbound, env.marketingSvc, lock.NewLocalLocker(), DispatchDefaults{BatchSize: 100}, log)
	env.reconciliation = NewReconciliationService(env.messages, env.customers, env.suppression, env.rules,
		env.normalizer, env.outbound, true, log)
	return env
}

func ptr[T any](v T) *T {
	return &v
}

func newCustomer(id int64, name, email, mobile string, tags ...string) *models.Customer {
	c := &models.Customer{ID: id, Tags: tags}
	if name != "" {
		c.Name = ptr(name)
	}
	if email != "" {
		c.Email = ptr(email)
	}
	if mobile != "" {
		c.Mobile = ptr(mobile)
	}
	return c
}
