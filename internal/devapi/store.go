// Package devapi is an in-process implementation of the patient API the
// portal consumes, for local development and tests.
package devapi

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")
)

// User is an account of the API.
type User struct {
	ID             int64  `json:"id" db:"id"`
	Username       string `json:"username" db:"username"`
	Email          string `json:"email" db:"email"`
	FirstName      string `json:"first_name" db:"first_name"`
	LastName       string `json:"last_name" db:"last_name"`
	Role           string `json:"role" db:"role"`
	IsActive       bool   `json:"is_active" db:"is_active"`
	HashedPassword string `json:"-" db:"hashed_password"`
}

// Patient is a stored patient record.
type Patient struct {
	ID             int64  `json:"id" db:"id"`
	FirstName      string `json:"first_name" db:"first_name"`
	LastName       string `json:"last_name" db:"last_name"`
	DateOfBirth    string `json:"date_of_birth" db:"date_of_birth"`
	Gender         string `json:"gender" db:"gender"`
	Address        string `json:"address" db:"address"`
	PhoneNumber    string `json:"phone_number" db:"phone_number"`
	Email          string `json:"email" db:"email"`
	MedicalHistory string `json:"medical_history" db:"medical_history"`
	IsActive       bool   `json:"is_active" db:"is_active"`
}

// Store persists users and patients.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByID(ctx context.Context, id int64) (User, error)

	CreatePatient(ctx context.Context, p Patient) (Patient, error)
	GetPatient(ctx context.Context, id int64) (Patient, error)
	ListPatients(ctx context.Context, skip, limit int) ([]Patient, error)
	UpdatePatient(ctx context.Context, p Patient) (Patient, error)
	DeletePatient(ctx context.Context, id int64) error
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu            sync.RWMutex
	nextUserID    int64
	nextPatientID int64
	users         map[int64]User
	patients      map[int64]Patient
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextUserID:    1,
		nextPatientID: 1,
		users:         make(map[int64]User),
		patients:      make(map[int64]Patient),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email {
			return User{}, ErrEmailTaken
		}
		if existing.Username == u.Username {
			return User{}, ErrUsernameTaken
		}
	}

	u.ID = s.nextUserID
	s.nextUserID++
	u.IsActive = true
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) GetUserByID(_ context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) CreatePatient(_ context.Context, p Patient) (Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emailUsedLocked(p.Email, 0) {
		return Patient{}, ErrEmailTaken
	}

	p.ID = s.nextPatientID
	s.nextPatientID++
	p.IsActive = true
	s.patients[p.ID] = p
	return p, nil
}

func (s *MemoryStore) GetPatient(_ context.Context, id int64) (Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[id]
	if !ok {
		return Patient{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListPatients(_ context.Context, skip, limit int) ([]Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if skip >= len(out) {
		return []Patient{}, nil
	}
	out = out[skip:]
	if limit >= 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdatePatient(_ context.Context, p Patient) (Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.patients[p.ID]
	if !ok {
		return Patient{}, ErrNotFound
	}
	if p.Email != existing.Email && s.emailUsedLocked(p.Email, p.ID) {
		return Patient{}, ErrEmailTaken
	}

	p.IsActive = existing.IsActive
	s.patients[p.ID] = p
	return p, nil
}

func (s *MemoryStore) DeletePatient(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patients[id]; !ok {
		return ErrNotFound
	}
	delete(s.patients, id)
	return nil
}

func (s *MemoryStore) emailUsedLocked(email string, except int64) bool {
	for id, p := range s.patients {
		if id != except && p.Email == email {
			return true
		}
	}
	return false
}
