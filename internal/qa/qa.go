// Package qa implements the question-answering pipeline: retrieve top-k
// chunks from the ChunkIndex, build a grounded prompt, and delegate
// completion to the external LLM.
package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kamigoroshii/sefs/internal/chunkindex"
)

const noDocsAnswer = "I don't have any relevant documents to answer this question yet."

// Source describes one chunk that grounded an answer.
type Source struct {
	Filename   string  `json:"filename"`
	Path       string  `json:"path"`
	Similarity float64 `json:"similarity"`
	TopicLabel string  `json:"topic_label"`
	Preview    string  `json:"preview"`
}

// Answer is the result of Pipeline.Ask.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Query   string   `json:"query"`
	Error   string   `json:"error,omitempty"`
}

// Searcher is the subset of chunkindex.Index the pipeline depends on.
type Searcher interface {
	Search(query string, k int, clusterFilter *int) ([]chunkindex.Result, error)
}

// Pipeline answers natural-language questions grounded in indexed chunks.
type Pipeline struct {
	index  Searcher
	apiKey string
	model  string
	topK   int
}

// New constructs a Pipeline. apiKey may be empty — Ask then returns the
// API_KEY_MISSING error payload rather than attempting a network call.
func New(index Searcher, apiKey, model string, topK int) *Pipeline {
	if topK <= 0 {
		topK = 5
	}
	return &Pipeline{index: index, apiKey: apiKey, model: model, topK: topK}
}

// Ask retrieves the top-k chunks (optionally restricted to clusterFilter),
// builds a grounded prompt, and asks the LLM to answer from that context
// alone. An LLM failure is reported in the returned Answer's Error field,
// not as a Go error.
func (p *Pipeline) Ask(ctx context.Context, query string, clusterFilter *int) (Answer, error) {
	if p.apiKey == "" {
		return Answer{Query: query, Error: "API_KEY_MISSING"}, nil
	}

	results, err := p.index.Search(query, p.topK, clusterFilter)
	if err != nil {
		return Answer{}, fmt.Errorf("chunk search: %w", err)
	}

	if len(results) == 0 {
		return Answer{Answer: noDocsAnswer, Sources: nil, Query: query}, nil
	}

	prompt := buildPrompt(query, results)

	client := anthropic.NewClient(option.WithAPIKey(p.apiKey))
	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Answer{Query: query, Error: fmt.Sprintf("llm completion: %v", err)}, nil
	}

	text := extractText(msg)

	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{
			Filename:   r.Meta.Filename,
			Path:       r.Meta.Path,
			Similarity: r.Score,
			TopicLabel: r.Meta.TopicLabel,
			Preview:    preview(r.Text, 150),
		}
	}

	return Answer{Answer: text, Sources: sources, Query: query}, nil
}

// buildPrompt reproduces the literal grounded-QA prompt template.
func buildPrompt(query string, results []chunkindex.Result) string {
	var sb strings.Builder
	sb.WriteString("Answer the following question based ONLY on the provided context.\n")
	sb.WriteString("If the answer cannot be found in the context, say\n")
	sb.WriteString(`"I cannot answer this based on the available documents."` + "\n\n")
	sb.WriteString("Context:\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "[Source %d: %s]\n%s\n", i+1, r.Meta.Filename, r.Text)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(query)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

func extractText(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(anthropic.TextBlock); ok {
				sb.WriteString(tb.Text)
			}
		}
	}
	return sb.String()
}

func preview(text string, n int) string {
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}
