package interact

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidegate/interact/llm"
)

// historyWindow caps how many past exchanges are sent along with a prompt
// when no narrower relevant set can be determined.
const historyWindow = 10

// relevantExchanges is the structured answer the LLM returns when asked
// which past exchanges matter for the next prompt.
type relevantExchanges struct {
	MessageIDs []string `json:"messageIDs" jsonschema_description:"IDs of the past exchanges relevant to the new prompt"`
}

var relevantExchangesSchema = llm.GenerateSchema[relevantExchanges]()

const relevancePrompt = `You are given a conversation as a list of exchanges, each with an ID, and a new prompt.
Select the exchanges that provide context needed to answer the new prompt.
Ignore exchanges about unrelated topics. Return only the IDs.`

// relevantHistory picks the past exchanges worth sending with the next
// prompt. It asks the LLM to select relevant exchange IDs via structured
// output and keeps everything from the oldest relevant exchange onward so
// the LLM sees an uninterrupted thread. When the selection fails for any
// reason, the most recent exchanges are used instead.
func (c *Conversation) relevantHistory(ctx context.Context, prompt string) []Exchange {
	c.mu.Lock()
	history := make([]Exchange, len(c.history))
	copy(history, c.history)
	c.mu.Unlock()

	if len(history) == 0 {
		return nil
	}
	if len(history) <= historyWindow {
		return history
	}

	selected, err := c.selectRelevant(ctx, history, prompt)
	if err != nil {
		c.mgr.logger.Warn("relevant history selection failed, using recent exchanges", "error", err)
		return history[len(history)-historyWindow:]
	}
	return selected
}

// selectRelevant asks the LLM for the relevant exchange IDs and returns the
// history from the oldest one onward.
func (c *Conversation) selectRelevant(ctx context.Context, history []Exchange, prompt string) ([]Exchange, error) {
	var sb strings.Builder
	for _, ex := range history {
		fmt.Fprintf(&sb, "ID: %s\nPROMPT: %s\nRESPONSE: %s\n\n", ex.ID, ex.Prompt, ex.Response)
	}
	sb.WriteString("NEW PROMPT: ")
	sb.WriteString(prompt)

	lh, _, _ := c.mgr.handlers()
	resp, err := lh.Complete(ctx, llm.Request{
		System:     relevancePrompt,
		Prompt:     sb.String(),
		Schema:     relevantExchangesSchema,
		SchemaName: "relevant_exchanges",
	})
	if err != nil {
		return nil, err
	}

	var rel relevantExchanges
	if err := json.Unmarshal([]byte(resp.Content), &rel); err != nil {
		return nil, fmt.Errorf("decoding relevance selection: %w", err)
	}
	if len(rel.MessageIDs) == 0 {
		return nil, nil
	}

	wanted := make(map[string]bool, len(rel.MessageIDs))
	for _, id := range rel.MessageIDs {
		wanted[id] = true
	}
	for i, ex := range history {
		if wanted[ex.ID] {
			return history[i:], nil
		}
	}
	return nil, nil
}
