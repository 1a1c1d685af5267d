package enrichment

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type scriptedReply struct {
	Content string
	Err     error
}

// scriptedModel returns replies in order and records every prompt it receives.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []scriptedReply
	next     int
	received [][]*schema.Message
}

func newScriptedModel(replies ...scriptedReply) *scriptedModel {
	return &scriptedModel{replies: replies}
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, input)
	if m.next >= len(m.replies) {
		return nil, errors.New("scripted model has run out of replies")
	}
	r := m.replies[m.next]
	m.next++
	if r.Err != nil {
		return nil, r.Err
	}
	return schema.AssistantMessage(r.Content, nil), nil
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (m *scriptedModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func (m *scriptedModel) lastUserPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.received) == 0 {
		return ""
	}
	msgs := m.received[len(m.received)-1]
	return msgs[len(msgs)-1].Content
}
