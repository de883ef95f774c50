package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GeminiConfig configures a Gemini client.
type GeminiConfig struct {
	APIKey  string
	BaseURL string // optional override of the Gemini API endpoint
}

// Gemini calls the Gemini API through genai, translating tool use into function calling.
type Gemini struct {
	client *genai.Client
}

// NewGemini returns a client for cfg.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key not configured")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Complete sends req with GenerateContent.
func (g *Gemini) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := g.client.Models.GenerateContent(ctx, req.Model, toGeminiContents(req.Messages), toGeminiConfig(req))
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	return fromGeminiResponse(resp)
}

func toGeminiConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

func toGeminiContents(msgs []Message) []*genai.Content {
	// Function responses must carry the function name; older tool_result blocks may only have the call ID.
	names := map[string]string{}
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		c := &genai.Content{Role: string(role)}
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				if b.Text == "" {
					continue
				}
				c.Parts = append(c.Parts, &genai.Part{Text: b.Text})
			case BlockToolUse:
				names[b.ID] = b.Name
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   b.ID,
					Name: b.Name,
					Args: b.Input,
				}})
			case BlockToolResult:
				name := b.Name
				if name == "" {
					name = names[b.ToolUseID]
				}
				key := "output"
				if b.IsError {
					key = "error"
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       b.ToolUseID,
					Name:     name,
					Response: map[string]any{key: b.Content},
				}})
			}
		}
		if len(c.Parts) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil {
		return nil, errors.New("gemini: empty response")
	}
	out := &Response{StopReason: StopEndTurn}
	if md := resp.UsageMetadata; md != nil {
		// Thinking tokens are billed as output.
		out.Usage = Usage{
			InputTokens:  int(md.PromptTokenCount),
			OutputTokens: int(md.CandidatesTokenCount + md.ThoughtsTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return out, errors.New("gemini: no candidates returned")
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		out.StopReason = StopMaxTokens
	}
	if cand.Content == nil {
		return out, nil
	}
	for _, p := range cand.Content.Parts {
		switch {
		case p == nil || p.Thought:
		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			out.Content = append(out.Content, Block{
				Type:  BlockToolUse,
				ID:    id,
				Name:  p.FunctionCall.Name,
				Input: p.FunctionCall.Args,
			})
			out.StopReason = StopToolUse
		case p.Text != "":
			out.Content = append(out.Content, TextBlock(p.Text))
		}
	}
	return out, nil
}
