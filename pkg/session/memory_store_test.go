package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"signchat/pkg/domain"
)

func TestGetOrCreateIsStable(t *testing.T) {
	s := NewMemoryStore()

	first := s.GetOrCreate("session_1")
	if first.ID != "session_1" {
		t.Fatalf("unexpected id: %q", first.ID)
	}
	s.Update("session_1", func(sess *domain.Session) {
		sess.SetEmail("a@b.com")
	})
	second := s.GetOrCreate("session_1")
	if second.Email != "a@b.com" {
		t.Fatalf("expected existing session back, got email %q", second.Email)
	}
	if s.Count() != 1 {
		t.Fatalf("expected one session, got %d", s.Count())
	}
}

func TestGetUnknownSession(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEmailNeverClearedOnceSet(t *testing.T) {
	s := NewMemoryStore()
	s.Update("session_1", func(sess *domain.Session) {
		sess.SetEmail("user@example.com")
	})
	// A later turn carrying no email must not clear the stored one.
	got := s.Update("session_1", func(sess *domain.Session) {
		sess.SetEmail("")
		sess.AppendMessage(domain.Message{Role: domain.RoleUser, Content: "hi again"})
	})
	if got.Email != "user@example.com" {
		t.Fatalf("email was cleared: %q", got.Email)
	}
}

func TestConcurrentUpdatesSameSessionLoseNothing(t *testing.T) {
	s := NewMemoryStore()
	const writers = 32

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Update("session_1", func(sess *domain.Session) {
				sess.AppendMessage(domain.Message{
					Role:    domain.RoleUser,
					Content: fmt.Sprintf("msg-%d", n),
				})
			})
		}(i)
	}
	wg.Wait()

	got, err := s.Get("session_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Messages) != writers {
		t.Fatalf("expected %d messages, got %d", writers, len(got.Messages))
	}
}

func TestReturnedSessionIsACopy(t *testing.T) {
	s := NewMemoryStore()
	s.Update("session_1", func(sess *domain.Session) {
		sess.AppendMessage(domain.Message{Role: domain.RoleUser, Content: "original"})
	})
	got, _ := s.Get("session_1")
	got.Messages[0].Content = "tampered"

	again, _ := s.Get("session_1")
	if again.Messages[0].Content != "original" {
		t.Fatalf("stored session was mutated through a returned copy")
	}
}
