package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"broadcaster/internal/app"
	"broadcaster/internal/config"
	"broadcaster/internal/models"
	"broadcaster/internal/repository"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

var (
	customersCount = flag.Int("customers", 12, "Number of customers to create")
	showHelp       = flag.Bool("help", false, "Show usage information")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		printError(fmt.Sprintf("Failed to open database connection: %v", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		printError(fmt.Sprintf("Failed to ping database: %v", err))
		os.Exit(1)
	}

	s := &seeder{repos: app.NewRepositories(db), cfg: cfg}
	if err := s.run(context.Background(), *customersCount); err != nil {
		printError(fmt.Sprintf("Seeding failed: %v", err))
		os.Exit(1)
	}
	printSuccess("Seeding completed")
}

type seeder struct {
	repos *app.Repositories
	cfg   *config.Config
}

func (s *seeder) run(ctx context.Context, count int) error {
	customerIDs, err := s.seedCustomers(ctx, count)
	if err != nil {
		return err
	}
	if err := s.seedContacts(ctx, count); err != nil {
		return err
	}
	if err := s.seedRules(ctx); err != nil {
		return err
	}
	return s.seedCampaigns(ctx, customerIDs)
}

func (s *seeder) seedCustomers(ctx context.Context, count int) ([]int64, error) {
	printInfo(fmt.Sprintf("Seeding %d customers...", count))

	names := []string{"Li Wei", "Zhang Min", "Wang Fang", "Chen Jie", "Liu Yang", "Huang Lei", "Zhao Jing", "Wu Hao"}
	countries := []string{"CN", "SG", "MY"}

	ids := make([]int64, 0, count)
	for i := 1; i <= count; i++ {
		customer := &models.Customer{
			Name:        ptr(names[i%len(names)]),
			Email:       ptr(fmt.Sprintf("customer%03d@example.com", i)),
			Mobile:      ptr(fmt.Sprintf("+86138000%05d", i)),
			Country:     ptr(countries[i%len(countries)]),
			CountryCode: ptr("86"),
			Tags:        []string{"seed"},
		}
		// Every third customer only has email so channel skips show up in drips
		if i%3 == 0 {
			customer.Mobile = nil
		}
		if i%2 == 0 {
			customer.Tags = append(customer.Tags, "vip")
		}

		if err := s.repos.Customers.Create(ctx, customer); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				continue
			}
			return nil, fmt.Errorf("failed to create customer %d: %w", i, err)
		}
		if _, err := s.repos.Customers.AddToGroup(ctx, "seed", customer.ID); err != nil {
			return nil, fmt.Errorf("failed to group customer %d: %w", customer.ID, err)
		}
		ids = append(ids, customer.ID)
	}

	printSuccess(fmt.Sprintf("Created %d customers (skipped %d existing)", len(ids), count-len(ids)))
	return ids, nil
}

func (s *seeder) seedContacts(ctx context.Context, count int) error {
	printInfo(fmt.Sprintf("Seeding %d SMS contacts...", count))
	created := 0
	for i := 1; i <= count; i++ {
		contact := &models.Contact{
			Phone: fmt.Sprintf("+86139000%05d", i),
			Name:  ptr(fmt.Sprintf("Contact %d", i)),
			Tags:  []string{"seed"},
		}
		if err := s.repos.Contacts.Create(ctx, contact); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				continue
			}
			return fmt.Errorf("failed to create contact %d: %w", i, err)
		}
		if _, err := s.repos.Contacts.AddToGroup(ctx, "seed", contact.ID); err != nil {
			return fmt.Errorf("failed to group contact %d: %w", contact.ID, err)
		}
		created++
	}

	if err := s.repos.Suppression.AddBlacklist(ctx, "+8613900000001", "seeded blacklist entry"); err != nil {
		return fmt.Errorf("failed to seed blacklist: %w", err)
	}
	printSuccess(fmt.Sprintf("Created %d contacts", created))
	return nil
}

func (s *seeder) seedRules(ctx context.Context) error {
	rules := []*models.KeywordRule{
		{Keyword: "hours", MatchType: models.MatchContains, ResponseText: "We are open 9am to 6pm, Monday to Saturday.", Enabled: true},
		{Keyword: "^price(s)?$", MatchType: models.MatchRegex, ResponseText: "See our latest prices at example.com/prices", Enabled: true},
	}
	for _, rule := range rules {
		if err := s.repos.Rules.Create(ctx, rule); err != nil && !errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("failed to create keyword rule %q: %w", rule.Keyword, err)
		}
	}
	printSuccess(fmt.Sprintf("Created %d keyword rules", len(rules)))
	return nil
}

// seedCampaigns creates one draft campaign per family, paced with the configured defaults
func (s *seeder) seedCampaigns(ctx context.Context, customerIDs []int64) error {
	rate := s.cfg.SMS.DefaultRatePerMin
	batch := s.cfg.SMS.DefaultBatchSize
	split := 50

	sms := &models.SMSCampaign{
		Name:          "Seed SMS A/B",
		Channel:       models.ChannelSMS,
		VariantA:      "Hi {{name}}, spring sale starts today!",
		VariantB:      "{{name}}, 20% off everything this week only.",
		ABSplit:       &split,
		Status:        models.CampaignStatusDraft,
		RatePerMinute: &rate,
		BatchSize:     &batch,
		AppendOptOut:  true,
		Targeting:     models.Targeting{Tags: []string{"seed"}},
	}
	if err := s.repos.SMS.Create(ctx, sms); err != nil {
		return fmt.Errorf("failed to create sms campaign: %w", err)
	}

	email := &models.EmailCampaign{
		Name:                 "Seed Email With Follow-up",
		Subject:              "Your spring picks, {{name}}",
		Text:                 "Hello {{name}}, we picked a few things for you.",
		Status:               models.CampaignStatusDraft,
		RatePerMinute:        &rate,
		BatchSize:            &batch,
		Targeting:            models.Targeting{Tags: []string{"seed"}},
		FollowupEnabled:      true,
		FollowupDelayMinutes: 60,
		FollowupCondition:    models.FollowupUnread,
		FollowupText:         "Just checking in, {{name}}. The sale ends soon.",
	}
	if err := s.repos.Email.Create(ctx, email); err != nil {
		return fmt.Errorf("failed to create email campaign: %w", err)
	}

	drip := &models.MarketingCampaign{
		Name:              "Seed Welcome Drip",
		Status:            models.CampaignStatusDraft,
		TargetCustomerIDs: customerIDs,
	}
	if err := s.repos.Marketing.Create(ctx, drip); err != nil {
		return fmt.Errorf("failed to create marketing campaign: %w", err)
	}
	steps := []*models.CampaignStep{
		{OrderNo: 1, Channel: models.ChannelEmail, Subject: "Welcome, {{name}}", Content: "Thanks for joining us, {{name}}."},
		{OrderNo: 2, Channel: models.ChannelSMS, DelayDays: 2, Content: "Hi {{name}}, your welcome coupon is waiting."},
		{OrderNo: 3, Channel: models.ChannelWhatsApp, DelayDays: 5, Content: "Hi {{name}}, any questions? Just reply here."},
	}
	for _, step := range steps {
		step.CampaignID = drip.ID
		if err := s.repos.Marketing.CreateStep(ctx, step); err != nil {
			return fmt.Errorf("failed to create step %d: %w", step.OrderNo, err)
		}
	}

	printSuccess(fmt.Sprintf("Created campaigns: sms=%d email=%d marketing=%d", sms.ID, email.ID, drip.ID))
	return nil
}

func ptr(s string) *string {
	return &s
}

func printSuccess(msg string) {
	fmt.Printf("%s%s%s\n", colorGreen, msg, colorReset)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, msg, colorReset)
}

func printInfo(msg string) {
	fmt.Printf("%s%s%s\n", colorCyan, msg, colorReset)
}

func printUsage() {
	fmt.Printf("%sBroadcaster database seeder%s\n\n", colorYellow, colorReset)
	fmt.Println("Usage: seed [flags]")
	fmt.Println("\nFlags:")
	flag.PrintDefaults()
	fmt.Println("\nCreates customers, SMS contacts, keyword rules and one draft campaign per family.")
}
