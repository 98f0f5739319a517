package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"lazyd/pkg/types"
)

// completionRequest is the payload for /v1/completions.
type completionRequest struct {
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int64    `json:"seed,omitempty"`
	Stream        bool     `json:"stream"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
}

// streamChoice accepts both completion ("text") and chat ("delta.content") chunks.
type streamChoice struct {
	Text  string `json:"text"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type streamChunk struct {
	Choices []streamChoice `json:"choices"`
	Usage   *types.Usage   `json:"usage,omitempty"`
}

// streamCompletion posts req to baseURL and consumes the SSE response.
// onChunk may be nil.
func streamCompletion(ctx context.Context, cli *http.Client, baseURL string, req types.GenerateRequest, onChunk func(string) error) (types.GenerateResult, error) {
	payload := completionRequest{
		Prompt:        req.Prompt,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		Stop:          req.Stop,
		Seed:          req.Seed,
		Stream:        true,
		RepeatPenalty: req.RepeatPenalty,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return types.GenerateResult{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return types.GenerateResult{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	resp, err := cli.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return types.GenerateResult{}, ctx.Err()
		}
		return types.GenerateResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.GenerateResult{}, fmt.Errorf("worker http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	var (
		final   types.GenerateResult
		content strings.Builder
	)
	r := bufio.NewReader(resp.Body)
	for {
		line, rerr := r.ReadString('\n')
		if l := strings.TrimSpace(line); strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var msg streamChunk
			if e := json.Unmarshal([]byte(data), &msg); e == nil {
				if msg.Usage != nil {
					final.Usage = *msg.Usage
				}
				if len(msg.Choices) > 0 {
					c := msg.Choices[0]
					frag := c.Text
					if frag == "" {
						frag = c.Delta.Content
					}
					if frag != "" {
						content.WriteString(frag)
						if onChunk != nil {
							if cbErr := onChunk(frag); cbErr != nil {
								final.Content = content.String()
								return final, cbErr
							}
						}
					}
					if c.FinishReason != "" {
						final.FinishReason = c.FinishReason
					}
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			final.Content = content.String()
			if ctx.Err() != nil {
				return final, ctx.Err()
			}
			return final, rerr
		}
	}
	final.Content = content.String()
	return final, nil
}

// probeModels reports whether the server at baseURL answers /v1/models with 2xx.
func probeModels(ctx context.Context, cli *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("readiness probe: %s", resp.Status)
	}
	return nil
}
