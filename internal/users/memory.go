package users

import (
	"context"
	"sync"
)

// MemoryStore はプロセス内で完結するストアです。テストとローカル開発向けです。
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]Record
	ids     map[string]struct{}
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEmail: make(map[string]Record),
		ids:     make(map[string]struct{}),
	}
}

// FindByEmail は email に一致するレコードのコピーを返します。
func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byEmail[email]
	if !ok {
		return nil, NotFoundError(email)
	}
	return &record, nil
}

// Insert は email と UserID の重複をロック内で確認してから保存します。
func (s *MemoryStore) Insert(ctx context.Context, record *Record) error {
	if err := ValidateRecord(record); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[record.Email]; exists {
		return EmailTakenError(record.Email)
	}
	if _, exists := s.ids[record.UserID]; exists {
		return IDTakenError(record.UserID)
	}
	s.byEmail[record.Email] = *record
	s.ids[record.UserID] = struct{}{}
	return nil
}

// Len は保存済みのレコード数を返します。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byEmail)
}
