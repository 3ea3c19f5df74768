// Package seed fills a development database with a plausible campus board.
// It is meant for local development and demos only.
package seed

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"tracehub/internal/models"
	"tracehub/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is the password of every seeded account.
const DefaultPassword = "password123"

// Options configuration for the seeder
type Options struct {
	Users           int
	Items           int
	MessagesPerItem int
	Domain          string
	// Seed makes the generated data reproducible when non-zero.
	Seed int64
}

var (
	objects = []string{
		"Water bottle", "Scientific calculator", "ID card", "Umbrella", "Laptop charger",
		"Headphones", "Spectacles", "Wallet", "Hoodie", "Lab coat", "Pen drive",
		"Bicycle key", "Library book", "Notebook", "Watch", "Earbuds case", "Lunch box",
	}
	colours = []string{"Black", "Blue", "Red", "Grey", "Green", "White", "Silver", "Maroon"}

	locations = []string{
		"Main library", "Block A corridor", "Block C canteen", "Seminar hall",
		"Physics lab", "Basketball court", "Parking lot", "Auditorium", "Bus stop",
		"Computer centre", "Hostel mess", "Admin office",
	}

	replies = []string{
		"Is it still available?",
		"I think this might be mine.",
		"I saw something like this near the front desk.",
		"Can you share a photo?",
		"Handed it over to security.",
		"Thanks, collecting it after class.",
		"Which day did you find it?",
	}
)

// Seeder creates users, items and discussions.
type Seeder struct {
	db       *gorm.DB
	opts     Options
	faker    *gofakeit.Faker
	items    repository.ItemRepository
	messages repository.MessageRepository
}

// NewSeeder creates a Seeder bound to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.Domain == "" {
		opts.Domain = "@saividya.ac.in"
	}
	if !strings.HasPrefix(opts.Domain, "@") {
		opts.Domain = "@" + opts.Domain
	}
	return &Seeder{
		db:       db,
		opts:     opts,
		faker:    gofakeit.New(seed),
		items:    repository.NewItemRepository(db),
		messages: repository.NewMessageRepository(db),
	}
}

// ClearAll removes every row the seeder can create.
func (s *Seeder) ClearAll() error {
	log.Println("🧹 Clearing messages, items and users...")
	for _, m := range []any{&models.Message{}, &models.Item{}, &models.User{}} {
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(m).Error; err != nil {
			return fmt.Errorf("clear %T: %w", m, err)
		}
	}
	return nil
}

// Run seeds users, then items spread over them, then discussions.
func (s *Seeder) Run(ctx context.Context) ([]models.User, []models.Item, error) {
	users, err := s.SeedUsers(ctx, s.opts.Users)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.SeedItems(ctx, users, s.opts.Items)
	if err != nil {
		return nil, nil, err
	}
	if err := s.SeedDiscussions(ctx, users, items, s.opts.MessagesPerItem); err != nil {
		return nil, nil, err
	}
	return users, items, nil
}

// SeedUsers creates n institutional accounts sharing DefaultPassword.
func (s *Seeder) SeedUsers(ctx context.Context, n int) ([]models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	users := make([]models.User, 0, n)
	for i := 0; i < n; i++ {
		local := strings.ToLower(fmt.Sprintf("%s.%s%d", s.faker.FirstName(), s.faker.LastName(), i))
		u := models.User{Email: local + s.opts.Domain, Password: string(hash)}
		if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
			return nil, fmt.Errorf("create user %s: %w", u.Email, err)
		}
		users = append(users, u)
	}
	log.Printf("👤 Created %d users", len(users))
	return users, nil
}

// SeedItems creates n items owned by random users, oldest first.
func (s *Seeder) SeedItems(ctx context.Context, users []models.User, n int) ([]models.Item, error) {
	if len(users) == 0 || n == 0 {
		return nil, nil
	}
	items := make([]models.Item, 0, n)
	for i := 0; i < n; i++ {
		owner := users[s.faker.Number(0, len(users)-1)]
		itemType := models.ItemTypeLost
		if s.faker.Bool() {
			itemType = models.ItemTypeFound
		}
		object := s.faker.RandomString(objects)
		item := &models.Item{
			Type:         itemType,
			Title:        s.faker.RandomString(colours) + " " + strings.ToLower(object),
			Description:  s.faker.Sentence(12),
			Location:     s.faker.RandomString(locations),
			ContactName:  s.faker.FirstName(),
			ContactPhone: s.faker.Numerify("9#########"),
			OwnerID:      owner.ID,
		}
		if err := s.items.Create(ctx, item); err != nil {
			return nil, fmt.Errorf("create item: %w", err)
		}
		items = append(items, *item)
	}
	log.Printf("📦 Created %d items", len(items))
	return items, nil
}

// SeedDiscussions posts up to perItem messages on each item.
func (s *Seeder) SeedDiscussions(ctx context.Context, users []models.User, items []models.Item, perItem int) error {
	if len(users) == 0 || perItem <= 0 {
		return nil
	}
	total := 0
	for _, it := range items {
		count := s.faker.Number(0, perItem)
		for j := 0; j < count; j++ {
			author := users[s.faker.Number(0, len(users)-1)]
			msg := &models.Message{
				ItemID:      it.ID,
				AuthorID:    author.ID,
				AuthorEmail: author.Email,
				Text:        s.faker.RandomString(replies),
			}
			if err := s.messages.Append(ctx, msg); err != nil {
				return fmt.Errorf("append message to item %d: %w", it.ID, err)
			}
			total++
		}
	}
	log.Printf("💬 Posted %d messages", total)
	return nil
}
