package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"broadcaster/internal/models"
	"broadcaster/internal/repository"
)

const whatsappPrefix = "whatsapp:"

var (
	nonDigits = regexp.MustCompile(`\D`)
	phoneLike = regexp.MustCompile(`^\+?[\d\s().-]+$`)
)

// AddressNormalizer canonicalizes recipient addresses per channel. Normalizing
// an already normalized address returns it unchanged.
type AddressNormalizer struct {
	defaultCountryCode string
	validate           *validator.Validate
}

// NewAddressNormalizer creates a normalizer that prefixes bare national numbers
// with the given country code ("86", "+44").
func NewAddressNormalizer(defaultCountryCode string) *AddressNormalizer {
	return &AddressNormalizer{
		defaultCountryCode: strings.TrimPrefix(strings.TrimSpace(defaultCountryCode), "+"),
		validate:           validator.New(),
	}
}

// Phone returns "+<digits>". Numbers without a leading '+' get the default
// country code unless their digits already start with it.
func (n *AddressNormalizer) Phone(raw string) (string, error) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(strings.TrimSpace(raw), whatsappPrefix, ""))
	if cleaned == "" {
		return "", fmt.Errorf("%w: phone is required", ErrInvalidAddress)
	}

	digits := nonDigits.ReplaceAllString(cleaned, "")
	if digits == "" {
		return "", fmt.Errorf("%w: phone %q has no digits", ErrInvalidAddress, raw)
	}
	if strings.HasPrefix(cleaned, "+") || n.defaultCountryCode == "" || strings.HasPrefix(digits, n.defaultCountryCode) {
		return "+" + digits, nil
	}
	return "+" + n.defaultCountryCode + digits, nil
}

// WhatsApp returns "whatsapp:+<digits>"
func (n *AddressNormalizer) WhatsApp(raw string) (string, error) {
	phone, err := n.Phone(raw)
	if err != nil {
		return "", err
	}
	return whatsappPrefix + phone, nil
}

// Email lowercases and validates an address
func (n *AddressNormalizer) Email(raw string) (string, error) {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	if err := n.validate.Var(cleaned, "required,email"); err != nil {
		return "", fmt.Errorf("%w: email %q", ErrInvalidAddress, raw)
	}
	return cleaned, nil
}

// Normalize dispatches on channel
func (n *AddressNormalizer) Normalize(channel models.Channel, raw string) (string, error) {
	switch channel {
	case models.ChannelSMS:
		return n.Phone(raw)
	case models.ChannelWhatsApp:
		return n.WhatsApp(raw)
	case models.ChannelEmail:
		return n.Email(raw)
	}
	return "", fmt.Errorf("%w: unsupported channel %q", ErrInvalidAddress, channel)
}

// suppressionKey maps a channel address onto the key the suppression lists use.
// WhatsApp and SMS share phone-keyed entries.
func suppressionKey(channel models.Channel, address string) string {
	if channel == models.ChannelWhatsApp {
		return strings.TrimPrefix(address, whatsappPrefix)
	}
	return address
}

// Recipient is one resolved, normalized target of a send
type Recipient struct {
	Address    string
	Name       string
	ContactID  *int64
	CustomerID *int64
	Variables  map[string]string
}

// RecipientResolver turns a targeting spec into an ordered, deduplicated
// recipient list and answers suppression checks.
type RecipientResolver struct {
	normalizer  *AddressNormalizer
	contacts    repository.ContactRepository
	customers   repository.CustomerRepository
	suppression repository.SuppressionRepository
	logger      *slog.Logger
}

// NewRecipientResolver creates a new recipient resolver
func NewRecipientResolver(
	normalizer *AddressNormalizer,
	contacts repository.ContactRepository,
	customers repository.CustomerRepository,
	suppression repository.SuppressionRepository,
	logger *slog.Logger,
) *RecipientResolver {
	return &RecipientResolver{
		normalizer:  normalizer,
		contacts:    contacts,
		customers:   customers,
		suppression: suppression,
		logger:      logger,
	}
}

// Normalizer exposes the resolver's address normalizer
func (r *RecipientResolver) Normalizer() *AddressNormalizer {
	return r.normalizer
}

// Resolve returns explicit recipients, then group members, then tag matches,
// then rule matches. The first occurrence of an address wins. For SMS and
// WhatsApp, groups and tags refer to SMS contacts; for email they refer to customers.
func (r *RecipientResolver) Resolve(ctx context.Context, channel models.Channel, targeting models.Targeting) ([]Recipient, error) {
	set := newRecipientSet()

	for _, raw := range targeting.Recipients {
		address, err := r.normalizer.Normalize(channel, raw)
		if err != nil {
			r.logger.Warn("skipping invalid recipient", "channel", channel, "recipient", raw, "error", err)
			continue
		}
		set.add(Recipient{Address: address})
	}

	if channel == models.ChannelEmail {
		if err := r.addCustomerSources(ctx, set, channel, targeting); err != nil {
			return nil, err
		}
	} else {
		if err := r.addContactSources(ctx, set, channel, targeting); err != nil {
			return nil, err
		}
	}

	if targeting.Rules != nil {
		customers, err := r.customersForRules(ctx, targeting.Rules)
		if err != nil {
			return nil, err
		}
		for _, c := range customers {
			r.addCustomer(set, channel, c)
		}
	}

	return set.list, nil
}

func (r *RecipientResolver) addContactSources(ctx context.Context, set *recipientSet, channel models.Channel, targeting models.Targeting) error {
	if len(targeting.GroupIDs) > 0 {
		members, err := r.contacts.ListByGroupIDs(ctx, targeting.GroupIDs)
		if err != nil {
			return fmt.Errorf("failed to resolve group members: %w", err)
		}
		for _, c := range members {
			r.addContact(set, channel, c)
		}
	}
	if len(targeting.Tags) > 0 {
		tagged, err := r.contacts.ListByTags(ctx, targeting.Tags)
		if err != nil {
			return fmt.Errorf("failed to resolve tagged contacts: %w", err)
		}
		for _, c := range tagged {
			r.addContact(set, channel, c)
		}
	}
	return nil
}

func (r *RecipientResolver) addCustomerSources(ctx context.Context, set *recipientSet, channel models.Channel, targeting models.Targeting) error {
	if len(targeting.GroupIDs) > 0 {
		members, err := r.customers.ListByGroupIDs(ctx, targeting.GroupIDs)
		if err != nil {
			return fmt.Errorf("failed to resolve group members: %w", err)
		}
		for _, c := range members {
			r.addCustomer(set, channel, c)
		}
	}
	if len(targeting.Tags) > 0 {
		tagged, err := r.customers.ListByTags(ctx, targeting.Tags)
		if err != nil {
			return fmt.Errorf("failed to resolve tagged customers: %w", err)
		}
		for _, c := range tagged {
			r.addCustomer(set, channel, c)
		}
	}
	return nil
}

func (r *RecipientResolver) customersForRules(ctx context.Context, rules *models.FilterRules) ([]*models.Customer, error) {
	var (
		candidates []*models.Customer
		err        error
	)
	if len(rules.GroupIDs) > 0 {
		candidates, err = r.customers.ListByGroupIDs(ctx, rules.GroupIDs)
	} else {
		candidates, err = r.customers.ListAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rule customers: %w", err)
	}

	matched := make([]*models.Customer, 0, len(candidates))
	for _, c := range candidates {
		if rules.Match(c) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

func (r *RecipientResolver) addContact(set *recipientSet, channel models.Channel, c *models.Contact) {
	address, err := r.normalizer.Normalize(channel, c.Phone)
	if err != nil {
		r.logger.Warn("skipping contact with invalid phone", "contact_id", c.ID, "error", err)
		return
	}
	id := c.ID
	rec := Recipient{Address: address, ContactID: &id, Variables: c.Variables()}
	if c.Name != nil {
		rec.Name = *c.Name
	}
	set.add(rec)
}

func (r *RecipientResolver) addCustomer(set *recipientSet, channel models.Channel, c *models.Customer) {
	raw := c.Address(channel)
	if raw == "" {
		return
	}
	address, err := r.normalizer.Normalize(channel, raw)
	if err != nil {
		r.logger.Warn("skipping customer with invalid address", "customer_id", c.ID, "channel", channel, "error", err)
		return
	}
	id := c.ID
	set.add(Recipient{Address: address, Name: c.DisplayName(), CustomerID: &id, Variables: c.Context()})
}

// Suppressed reports why an address must not receive a send. Transactional
// sends ignore opt-outs but still honor the blacklist.
func (r *RecipientResolver) Suppressed(ctx context.Context, channel models.Channel, address string, transactional bool) (models.SuppressionReason, error) {
	reason, err := r.suppression.Lookup(ctx, suppressionKey(channel, address))
	if err != nil {
		return models.SuppressionNone, err
	}
	if transactional && reason == models.SuppressionOptOut {
		return models.SuppressionNone, nil
	}
	return reason, nil
}

type recipientSet struct {
	seen map[string]bool
	list []Recipient
}

func newRecipientSet() *recipientSet {
	return &recipientSet{seen: make(map[string]bool)}
}

func (s *recipientSet) add(r Recipient) {
	if s.seen[r.Address] {
		return
	}
	s.seen[r.Address] = true
	s.list = append(s.list, r)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
