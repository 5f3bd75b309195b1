package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	chat "taskchat/internal/pkg/chat/application/domain"
)

// fakeRepo is an in-memory ChatRepository mirroring the transactional
// contract of the pg adapter: a message insert and the recency touch succeed
// or fail together.
type fakeRepo struct {
	mu            sync.Mutex
	conversations map[string]*chat.Conversation
	messages      []chat.Message
	findErr       error
	createErr     error
	seq           int
}

func newFakeRepo(convs ...chat.Conversation) *fakeRepo {
	r := &fakeRepo{conversations: make(map[string]*chat.Conversation)}
	for i := range convs {
		c := convs[i]
		r.conversations[c.ID] = &c
	}
	return r
}

func (r *fakeRepo) FindConversation(_ context.Context, id string) (*chat.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	c, ok := r.conversations[id]
	if !ok {
		return nil, chat.ErrConversationNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *fakeRepo) CreateMessage(_ context.Context, m chat.Message) (*chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	c, ok := r.conversations[m.ConversationID]
	if !ok {
		return nil, chat.ErrConversationNotFound
	}
	r.seq++
	m.ID = fmt.Sprintf("msg-%d", r.seq)
	r.messages = append(r.messages, m)
	c.LastMessageAt = m.CreatedAt
	return &m, nil
}

func (r *fakeRepo) storedMessages() []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Message(nil), r.messages...)
}

func (r *fakeRepo) lastMessageAt(id string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conversations[id]; ok {
		return c.LastMessageAt
	}
	return time.Time{}
}

// fakeDirectory is an in-memory UserDirectory.
type fakeDirectory struct {
	users map[string]chat.User
	err   error
}

func (d *fakeDirectory) FindUserByID(_ context.Context, id string) (*chat.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[id]
	if !ok {
		return nil, chat.ErrUserNotFound
	}
	return &u, nil
}

var errStoreDown = errors.New("store down")
