package openaicompat

import (
	"sort"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/provider"
)

// TranslateToChat converts a provider.Request into a ChatCompletionRequest.
// Tools and tool choice are omitted in data-source mode, where the backend
// performs retrieval itself.
func TranslateToChat(req *provider.Request) ChatCompletionRequest {
	cr := ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
		DataSources: req.DataSources,
	}

	for _, m := range req.Messages {
		cm := ChatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, ChatToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: ChatFunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		cr.Messages = append(cr.Messages, cm)
	}

	if len(req.DataSources) > 0 {
		return cr
	}

	for _, t := range req.Tools {
		cr.Tools = append(cr.Tools, ChatTool{
			Type: t.Type,
			Function: ChatFunctionDef{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	// The backend rejects tool_choice without tools.
	if len(cr.Tools) > 0 && req.ToolChoice != "" {
		cr.ToolChoice = req.ToolChoice
	}

	return cr
}

// TranslateResponse resolves a non-streaming response into its variant.
// A response whose choices carry "messages" is a data-source batch;
// anything else is a plain message completion. Choices are ordered by index.
func TranslateResponse(resp *ChatCompletionResponse) *provider.Completion {
	choices := append([]ChatChoice(nil), resp.Choices...)
	sort.SliceStable(choices, func(i, j int) bool { return choices[i].Index < choices[j].Index })

	var batch []provider.DataSourceMessage
	for _, c := range choices {
		batch = append(batch, c.Messages...)
	}

	var out *provider.Completion
	if len(batch) > 0 {
		out = provider.NewBatchCompletion(batch)
	} else {
		pcs := make([]provider.Choice, 0, len(choices))
		for _, c := range choices {
			pc := provider.Choice{Index: c.Index, FinishReason: c.FinishReason}
			if c.Message != nil {
				pc.Message = TranslateMessage(c.Message)
			}
			pcs = append(pcs, pc)
		}
		out = provider.NewMessageCompletion(pcs)
	}

	if resp.Usage != nil {
		out.Usage = provider.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}
	return out
}

// TranslateMessage converts a wire message into a history message.
func TranslateMessage(cm *ChatMessage) api.Message {
	m := api.Message{
		Role:       api.Role(cm.Role),
		Content:    cm.Content,
		ToolCallID: cm.ToolCallID,
		Name:       cm.Name,
	}
	if m.Role == "" {
		m.Role = api.RoleAssistant
	}
	for _, tc := range cm.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, api.ToolCallRequest{
			ID:   tc.ID,
			Type: tc.Type,
			Function: api.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return m
}

// TranslateChunk converts a streamed chunk into the provider form.
func TranslateChunk(chunk *ChatCompletionChunk) *provider.Chunk {
	out := &provider.Chunk{}
	if chunk.Usage != nil {
		out.Usage = &provider.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
			TotalTokens:  chunk.Usage.TotalTokens,
		}
	}
	for _, c := range chunk.Choices {
		cc := provider.ChunkChoice{Index: c.Index, Messages: c.Messages}
		if c.FinishReason != nil {
			cc.FinishReason = *c.FinishReason
		}
		if c.Delta != nil {
			d := &provider.Delta{Role: c.Delta.Role, Content: c.Delta.Content}
			for _, tc := range c.Delta.ToolCalls {
				d.ToolCalls = append(d.ToolCalls, provider.ToolCallDelta{
					Index:     tc.Index,
					ID:        tc.ID,
					Type:      tc.Type,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			cc.Delta = d
		}
		out.Choices = append(out.Choices, cc)
	}
	return out
}
