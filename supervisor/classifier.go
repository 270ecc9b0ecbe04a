package supervisor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hupe1980/recordflow/core"
	"github.com/hupe1980/recordflow/model"
)

const classifyInstructions = `You classify a user's message into exactly one intent.

Intents:
- create: the user wants to add a new record (note, medication, appointment, condition, ...).
- retrieve: the user wants to look up, list or ask about existing records.
- modify: the user wants to change an existing record.
- remove: the user wants to delete an existing record.
- visualize: the user wants to see how records relate to each other (a graph or overview of connections).
- clarification: the message answers a question the assistant just asked.
- general: anything else (greetings, small talk, questions not about records).

Respond with only a JSON object, no prose:
{"intent": "<one of the intents above>"}`

const confirmInstructions = `A change to the user's records is waiting for their explicit confirmation.
Decide from their reply whether they approve it.

Respond with only a JSON object, no prose:
{"decision": "confirm"} if they clearly approve,
{"decision": "cancel"} if they clearly reject,
{"decision": "unclear"} if the reply does not answer the question.`

type intentVerdict struct {
	Intent string `json:"intent"`
}

type confirmVerdict struct {
	Decision string `json:"decision"`
}

// classifyIntent asks the model for a structured intent verdict at
// temperature zero. The request carries a short window of recent messages so
// follow-ups like "delete it" resolve against what was just discussed. Any
// transport or parse failure degrades to general; misrouting a turn to the
// conversational path is always safe.
func (s *Supervisor) classifyIntent(ctx context.Context, conversationID, input string) core.Intent {
	messages := []model.Message{}

	if conv, err := s.memory.GetConversation(ctx, conversationID); err == nil {
		for _, msg := range conv.RecentMessages(4) {
			role := "user"
			if msg.Role == core.RoleAssistant {
				role = "assistant"
			}
			messages = append(messages, model.Message{Role: role, Text: msg.Content})
		}
	}

	if len(messages) == 0 {
		messages = append(messages, model.Message{Role: "user", Text: input})
	}

	resp, err := s.model.Complete(ctx, model.Request{
		Instructions:  classifyInstructions,
		Messages:      messages,
		Deterministic: true,
	})
	if err != nil {
		s.logger.Warn("supervisor.classify.error", "error", err)
		return core.IntentGeneral
	}

	var verdict intentVerdict
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &verdict); err != nil {
		s.logger.Warn("supervisor.classify.unparseable", "text", resp.Text)
		return core.IntentGeneral
	}

	intent, ok := core.ParseIntent(verdict.Intent)
	if !ok {
		s.logger.Warn("supervisor.classify.unknown_intent", "intent", verdict.Intent)
		return core.IntentGeneral
	}

	return intent
}

// classifyConfirmation asks the model whether the user's reply approves the
// held change. Failures come back as "unclear" so the supervisor re-asks
// instead of guessing.
func (s *Supervisor) classifyConfirmation(ctx context.Context, preview, input string) string {
	resp, err := s.model.Complete(ctx, model.Request{
		Instructions: confirmInstructions,
		Messages: []model.Message{
			{Role: "assistant", Text: "Pending change:\n" + preview},
			{Role: "user", Text: input},
		},
		Deterministic: true,
	})
	if err != nil {
		s.logger.Warn("supervisor.confirm.error", "error", err)
		return "unclear"
	}

	var verdict confirmVerdict
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &verdict); err != nil {
		s.logger.Warn("supervisor.confirm.unparseable", "text", resp.Text)
		return "unclear"
	}

	switch verdict.Decision {
	case "confirm", "cancel":
		return verdict.Decision
	}

	return "unclear"
}

// extractJSON pulls the outermost JSON object out of a model reply, tolerating
// code fences or stray prose around it.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}
