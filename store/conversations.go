// Package store holds in-memory conversation state. Nothing here survives a
// restart.
package store

import (
	"sync"

	"llm-webapp/models"
)

// ConversationStore maps conversation ids to their message history. Handlers
// run on parallel goroutines, so every operation takes the lock; the wider
// read-window/append race across an in-flight LLM call is accepted.
type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.ConversationContext
}

// NewConversationStore creates an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: make(map[string]*models.ConversationContext),
	}
}

// GetOrCreate returns the conversation for id, creating an empty one on first
// use. Never fails.
func (s *ConversationStore) GetOrCreate(id string) *models.ConversationContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		conv = models.NewConversationContext(id)
		s.conversations[id] = conv
	}
	return conv
}

// Append validates and appends a message to the conversation, creating the
// conversation if needed. History is an append log: duplicate calls append
// duplicate messages.
func (s *ConversationStore) Append(id string, role models.Role, content string) error {
	msg, err := models.NewMessage(role, content)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		conv = models.NewConversationContext(id)
		s.conversations[id] = conv
	}
	conv.AddMessage(msg)
	return nil
}

// History returns at most the last limit messages in chronological order, in
// the plain role/content form the LLM expects. Unknown ids yield an empty
// slice without creating the conversation. A non-positive limit returns the
// full history.
func (s *ConversationStore) History(id string, limit int) []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return []models.ChatMessage{}
	}
	recent := conv.RecentMessages(limit)
	history := make([]models.ChatMessage, 0, len(recent))
	for _, msg := range recent {
		history = append(history, models.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return history
}

// Clear removes the conversation entirely. Unknown ids are a no-op.
func (s *ConversationStore) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
}
