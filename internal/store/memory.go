package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/istudybucket/apiserver/types"
)

// MemoryStore keeps every table in process memory. Its repositories assume
// the caller holds the store lock, so they must only be used inside
// Atomically.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
}

type memoryState struct {
	users    map[int]types.User
	tokens   map[int]types.VerificationToken
	posts    map[int]types.Post
	comments map[int]types.Comment
	nextID   map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memoryState{
		users:    map[int]types.User{},
		tokens:   map[int]types.VerificationToken{},
		posts:    map[int]types.Post{},
		comments: map[int]types.Comment{},
		nextID:   map[string]int{},
	}}
}

// Atomically runs fn with exclusive access to the store. When fn returns an
// error every change it made is discarded.
func (m *MemoryStore) Atomically(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	ok := false
	defer func() {
		if !ok {
			m.state = snapshot
		}
	}()

	if err := fn(); err != nil {
		return err
	}
	ok = true
	return nil
}

func (m *MemoryStore) Users() *MemoryUserRepository {
	return &MemoryUserRepository{s: &m.state}
}

func (m *MemoryStore) VerificationTokens() *MemoryVerificationTokenRepository {
	return &MemoryVerificationTokenRepository{s: &m.state}
}

func (m *MemoryStore) Posts() *MemoryPostRepository {
	return &MemoryPostRepository{s: &m.state}
}

func (m *MemoryStore) Comments() *MemoryCommentRepository {
	return &MemoryCommentRepository{s: &m.state}
}

func (s *memoryState) clone() memoryState {
	out := memoryState{
		users:    make(map[int]types.User, len(s.users)),
		tokens:   make(map[int]types.VerificationToken, len(s.tokens)),
		posts:    make(map[int]types.Post, len(s.posts)),
		comments: make(map[int]types.Comment, len(s.comments)),
		nextID:   make(map[string]int, len(s.nextID)),
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.tokens {
		if v.ConsumedAt != nil {
			at := *v.ConsumedAt
			v.ConsumedAt = &at
		}
		out.tokens[k] = v
	}
	for k, v := range s.posts {
		if v.Attachment != nil {
			a := *v.Attachment
			v.Attachment = &a
		}
		out.posts[k] = v
	}
	for k, v := range s.comments {
		out.comments[k] = v
	}
	for k, v := range s.nextID {
		out.nextID[k] = v
	}
	return out
}

func (s *memoryState) id(table string) int {
	s.nextID[table]++
	return s.nextID[table]
}

// MemoryUserRepository is the in-memory counterpart of UserRepository.
type MemoryUserRepository struct {
	s *memoryState
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	user, ok := r.s.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

// GetByIDForUpdate needs no row lock: Atomically already holds the store.
func (r *MemoryUserRepository) GetByIDForUpdate(ctx context.Context, id int) (types.User, error) {
	return r.GetByID(ctx, id)
}

func (r *MemoryUserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	for _, user := range r.s.users {
		if user.Username == username {
			return user, nil
		}
	}
	return types.User{}, ErrNotFound
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	for _, user := range r.s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return types.User{}, ErrNotFound
}

func (r *MemoryUserRepository) CreatePending(ctx context.Context, user types.User) (types.User, error) {
	for _, existing := range r.s.users {
		if existing.Username == user.Username || strings.EqualFold(existing.Email, user.Email) {
			return types.User{}, ErrConflict
		}
	}

	now := time.Now()
	user.ID = r.s.id("users")
	user.Status = types.UserStatusPending
	user.CreatedAt = now
	user.UpdatedAt = now
	r.s.users[user.ID] = user
	return user, nil
}

func (r *MemoryUserRepository) Activate(ctx context.Context, id int) error {
	user, ok := r.s.users[id]
	if !ok {
		return ErrNotFound
	}
	if user.Status == types.UserStatusActive {
		return nil
	}
	user.Status = types.UserStatusActive
	user.UpdatedAt = time.Now()
	r.s.users[id] = user
	return nil
}

// MemoryVerificationTokenRepository is the in-memory counterpart of
// VerificationTokenRepository.
type MemoryVerificationTokenRepository struct {
	s *memoryState
}

func (r *MemoryVerificationTokenRepository) Create(ctx context.Context, token types.VerificationToken) (types.VerificationToken, error) {
	for _, existing := range r.s.tokens {
		if existing.TokenHash == token.TokenHash {
			return types.VerificationToken{}, ErrConflict
		}
		if existing.UserID == token.UserID && existing.ConsumedAt == nil {
			return types.VerificationToken{}, ErrConflict
		}
	}

	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	token.ID = r.s.id("verification_tokens")
	token.ConsumedAt = nil
	r.s.tokens[token.ID] = token
	return token, nil
}

func (r *MemoryVerificationTokenRepository) GetByHash(ctx context.Context, tokenHash string) (types.VerificationToken, error) {
	for _, token := range r.s.tokens {
		if token.TokenHash == tokenHash {
			return token, nil
		}
	}
	return types.VerificationToken{}, ErrNotFound
}

func (r *MemoryVerificationTokenRepository) InvalidateForUser(ctx context.Context, userID int, at time.Time) (int64, error) {
	var affected int64
	for id, token := range r.s.tokens {
		if token.UserID == userID && token.ConsumedAt == nil {
			consumed := at
			token.ConsumedAt = &consumed
			r.s.tokens[id] = token
			affected++
		}
	}
	return affected, nil
}

func (r *MemoryVerificationTokenRepository) MarkConsumed(ctx context.Context, id int, at time.Time) error {
	token, ok := r.s.tokens[id]
	if !ok || token.ConsumedAt != nil {
		return ErrNotFound
	}
	consumed := at
	token.ConsumedAt = &consumed
	r.s.tokens[id] = token
	return nil
}

// MemoryPostRepository is the in-memory counterpart of PostRepository.
type MemoryPostRepository struct {
	s *memoryState
}

func (r *MemoryPostRepository) List(ctx context.Context, offset, limit int) ([]types.Post, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	all := make([]types.Post, 0, len(r.s.posts))
	for _, post := range r.s.posts {
		all = append(all, post)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := len(all)
	if offset >= total {
		return []types.Post{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *MemoryPostRepository) Get(ctx context.Context, id int) (types.Post, error) {
	post, ok := r.s.posts[id]
	if !ok {
		return types.Post{}, ErrNotFound
	}
	return post, nil
}

func (r *MemoryPostRepository) Create(ctx context.Context, post types.Post) (types.Post, error) {
	now := time.Now()
	post.ID = r.s.id("posts")
	post.CreatedAt = now
	post.UpdatedAt = now
	r.s.posts[post.ID] = post
	return post, nil
}

// MemoryCommentRepository is the in-memory counterpart of CommentRepository.
type MemoryCommentRepository struct {
	s *memoryState
}

func (r *MemoryCommentRepository) Create(ctx context.Context, comment types.Comment) (types.Comment, error) {
	comment.ID = r.s.id("comments")
	comment.CreatedAt = time.Now()
	r.s.comments[comment.ID] = comment
	return comment, nil
}

func (r *MemoryCommentRepository) ListByPost(ctx context.Context, postID int) ([]types.Comment, error) {
	return r.filter(func(c types.Comment) bool { return c.PostID == postID }), nil
}

func (r *MemoryCommentRepository) ListByPostAndAuthor(ctx context.Context, postID, authorID int) ([]types.Comment, error) {
	return r.filter(func(c types.Comment) bool { return c.PostID == postID && c.AuthorID == authorID }), nil
}

func (r *MemoryCommentRepository) filter(keep func(types.Comment) bool) []types.Comment {
	out := make([]types.Comment, 0)
	for _, comment := range r.s.comments {
		if keep(comment) {
			out = append(out, comment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
