package service

import (
	"context"
	"sync"

	"tracehub/internal/models"

	"github.com/stretchr/testify/assert"
)

// itemRepoStub is a stub for repository.ItemRepository.
type itemRepoStub struct {
	listFn        func(context.Context) ([]models.Item, error)
	getByIDFn     func(context.Context, uint) (*models.Item, error)
	createFn      func(context.Context, *models.Item) error
	deleteOwnedFn func(context.Context, uint, uint) error
}

func (s *itemRepoStub) List(ctx context.Context) ([]models.Item, error) { return s.listFn(ctx) }
func (s *itemRepoStub) GetByID(ctx context.Context, id uint) (*models.Item, error) {
	return s.getByIDFn(ctx, id)
}
func (s *itemRepoStub) Create(ctx context.Context, item *models.Item) error {
	return s.createFn(ctx, item)
}
func (s *itemRepoStub) DeleteOwned(ctx context.Context, id, ownerID uint) error {
	return s.deleteOwnedFn(ctx, id, ownerID)
}

func noopItemRepo() *itemRepoStub {
	return &itemRepoStub{
		listFn:        func(context.Context) ([]models.Item, error) { return []models.Item{}, nil },
		getByIDFn:     func(_ context.Context, id uint) (*models.Item, error) { return &models.Item{ID: id}, nil },
		createFn:      func(_ context.Context, it *models.Item) error { it.ID = 1; return nil },
		deleteOwnedFn: func(context.Context, uint, uint) error { return nil },
	}
}

// messageRepoStub is a stub for repository.MessageRepository.
type messageRepoStub struct {
	appendFn    func(context.Context, *models.Message) error
	listAfterFn func(context.Context, uint, uint64) ([]models.Message, error)
}

func (s *messageRepoStub) Append(ctx context.Context, msg *models.Message) error {
	return s.appendFn(ctx, msg)
}
func (s *messageRepoStub) ListAfter(ctx context.Context, itemID uint, afterSeq uint64) ([]models.Message, error) {
	return s.listAfterFn(ctx, itemID, afterSeq)
}

func noopMessageRepo() *messageRepoStub {
	var seq uint64
	return &messageRepoStub{
		appendFn: func(_ context.Context, m *models.Message) error {
			seq++
			m.ID = uint(seq)
			m.Seq = seq
			return nil
		},
		listAfterFn: func(context.Context, uint, uint64) ([]models.Message, error) { return []models.Message{}, nil },
	}
}

// userRepoStub is a stub for repository.UserRepository.
type userRepoStub struct {
	getByIDFn    func(context.Context, uint) (*models.User, error)
	getByEmailFn func(context.Context, string) (*models.User, error)
	createFn     func(context.Context, *models.User) error
}

func (s *userRepoStub) GetByID(ctx context.Context, id uint) (*models.User, error) {
	return s.getByIDFn(ctx, id)
}
func (s *userRepoStub) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getByEmailFn(ctx, email)
}
func (s *userRepoStub) Create(ctx context.Context, u *models.User) error { return s.createFn(ctx, u) }

func noopUserRepo() *userRepoStub {
	return &userRepoStub{
		getByIDFn:    func(_ context.Context, id uint) (*models.User, error) { return &models.User{ID: id}, nil },
		getByEmailFn: func(context.Context, string) (*models.User, error) { return nil, nil },
		createFn:     func(_ context.Context, u *models.User) error { u.ID = 1; return nil },
	}
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ItemEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e models.ItemEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Events() []models.ItemEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ItemEvent(nil), p.events...)
}

// objectStoreStub records Put calls.
type objectStoreStub struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (s *objectStoreStub) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.keys = append(s.keys, key)
	return "/media/" + key, nil
}

func assertCode(t assert.TestingT, err error, code string) bool {
	var appErr *models.AppError
	if !assert.ErrorAs(t, err, &appErr) {
		return false
	}
	return assert.Equal(t, code, appErr.Code)
}
