package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Apology is the fixed fallback the assistant produces whenever a model call
// fails. Gateway failures never propagate past this boundary.
const Apology = "Sorry, I hit a snag talking to the model. Could you say that again?"

const systemInstruction = "You are a voice pair-programming assistant. Answer clearly and briefly; you are read aloud. " +
	"When a repository is connected, use the provided tools to inspect files and propose changes instead of guessing."

// ToolCall is a structured request from the model to invoke a local
// capability before it can produce its final answer.
type ToolCall struct {
	Name string
	Args map[string]string
}

// ConverseRequest carries one model invocation. Visual context and tools are
// mutually exclusive: tool mode never attaches an image and vision mode never
// declares the tool schema.
type ConverseRequest struct {
	Utterance    string
	ImageJPEG    []byte
	ToolsEnabled bool
	ExtraContext string
}

// ConverseResult always carries usable text. When the underlying call failed,
// Text holds the fixed apology, ToolCalls is empty, and Err records the cause
// for logs.
type ConverseResult struct {
	Text      string
	ToolCalls []ToolCall
	Err       error
}

// GeminiClient is a thin HTTP client for the Gemini generateContent API,
// covering both text/vision/tool inference and speech synthesis.
type GeminiClient struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Model      string
	TTSModel   string
	Voice      string
}

func NewGeminiClient(apiKey, model, ttsModel, voice string) *GeminiClient {
	return &GeminiClient{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		BaseURL:    "https://generativelanguage.googleapis.com",
		APIKey:     apiKey,
		Model:      model,
		TTSModel:   ttsModel,
		Voice:      voice,
	}
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text         string        `json:"text,omitempty"`
	InlineData   *inlineData   `json:"inline_data,omitempty"`
	FunctionCall *functionCall `json:"functionCall,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type functionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type generateRequest struct {
	SystemInstruction *content          `json:"system_instruction,omitempty"`
	Contents          []content         `json:"contents"`
	Tools             []toolDecl        `json:"tools,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuiltVoiceConfig"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Converse performs one model invocation. It never returns a failure to the
// caller: transport or API errors are logged, recorded in the result, and
// replaced with the fixed apology.
func (c *GeminiClient) Converse(ctx context.Context, req ConverseRequest) ConverseResult {
	text, calls, err := c.generate(ctx, req)
	if err != nil {
		log.Printf("llm: converse failed: %v", err)
		return ConverseResult{Text: Apology, Err: err}
	}
	return ConverseResult{Text: text, ToolCalls: calls}
}

func (c *GeminiClient) generate(ctx context.Context, req ConverseRequest) (string, []ToolCall, error) {
	if c.APIKey == "" {
		return "", nil, fmt.Errorf("gemini api key missing")
	}

	prompt := req.Utterance
	if req.ExtraContext != "" {
		prompt = "Context from the previous tool call:\n" + req.ExtraContext + "\n\nUser request: " + req.Utterance
	}
	parts := []part{{Text: prompt}}
	if len(req.ImageJPEG) > 0 && !req.ToolsEnabled {
		parts = append(parts, part{InlineData: &inlineData{
			MIMEType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(req.ImageJPEG),
		}})
	}

	body := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: systemInstruction}}},
		Contents:          []content{{Role: "user", Parts: parts}},
	}
	if req.ToolsEnabled {
		body.Tools = []toolDecl{{FunctionDeclarations: repositoryTools()}}
	}

	var gr generateResponse
	if err := c.post(ctx, c.Model, body, &gr); err != nil {
		return "", nil, err
	}
	if len(gr.Candidates) == 0 {
		return "", nil, fmt.Errorf("gemini: empty candidates")
	}

	var text strings.Builder
	var calls []ToolCall
	for _, p := range gr.Candidates[0].Content.Parts {
		if p.Text != "" {
			text.WriteString(p.Text)
		}
		if p.FunctionCall != nil {
			calls = append(calls, ToolCall{Name: p.FunctionCall.Name, Args: stringArgs(p.FunctionCall.Args)})
		}
	}
	return strings.TrimSpace(text.String()), calls, nil
}

func stringArgs(args map[string]any) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func (c *GeminiClient) post(ctx context.Context, model string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.BaseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("x-goog-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gemini error: status=%d body=%s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
