package snippets

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/normanking/converse/internal/llm"
)

const (
	describeTimeout = 30 * time.Second

	describePrompt = `Describe the following code block in one sentence: what it does and when someone would reuse it. Respond with only the sentence, no preamble.`
)

// fencedBlockRE matches markdown fenced code blocks with an optional
// language tag.
var fencedBlockRE = regexp.MustCompile("(?s)```([a-zA-Z0-9+#._-]*)\n(.*?)```")

// CodeBlock is one fenced block found in a response.
type CodeBlock struct {
	Language string
	Code     string
}

// ExtractBlocks scans text for fenced code blocks.
func ExtractBlocks(text string) []CodeBlock {
	var blocks []CodeBlock
	for _, m := range fencedBlockRE.FindAllStringSubmatch(text, -1) {
		code := strings.TrimRight(m[2], "\n")
		if strings.TrimSpace(code) == "" {
			continue
		}
		blocks = append(blocks, CodeBlock{Language: m[1], Code: code})
	}
	return blocks
}

// Extractor scans settled responses for code blocks, describes each against
// its conversational context, and stores the result.
type Extractor struct {
	provider llm.Provider
	model    string
	store    *Store
}

// NewExtractor creates a code extractor.
func NewExtractor(provider llm.Provider, model string, store *Store) *Extractor {
	return &Extractor{provider: provider, model: model, store: store}
}

// Run extracts and stores every code block in response. The two preceding
// messages of context help the description. Returns how many snippets were
// stored; a partial store with an error is possible since blocks are
// described concurrently.
func (e *Extractor) Run(ctx context.Context, response string, contextMessages []string) (int, error) {
	blocks := ExtractBlocks(response)
	if len(blocks) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	stored := make([]bool, len(blocks))

	for i, block := range blocks {
		i, block := i, block
		g.Go(func() error {
			desc, err := e.describe(gctx, block, contextMessages)
			if err != nil {
				return err
			}
			if _, err := e.store.Add(block.Language, block.Code, desc); err != nil {
				return err
			}
			stored[i] = true
			return nil
		})
	}
	err := g.Wait()

	count := 0
	for _, ok := range stored {
		if ok {
			count++
		}
	}
	return count, err
}

func (e *Extractor) describe(ctx context.Context, block CodeBlock, contextMessages []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, describeTimeout)
	defer cancel()

	var sb strings.Builder
	if len(contextMessages) > 0 {
		sb.WriteString("Conversation context:\n")
		for _, m := range contextMessages {
			fmt.Fprintf(&sb, "%s\n", m)
		}
		sb.WriteString("\n")
	}
	lang := block.Language
	if lang == "" {
		lang = "unknown language"
	}
	fmt.Fprintf(&sb, "Code (%s):\n```\n%s\n```", lang, block.Code)

	desc, err := e.provider.Complete(ctx, &llm.Request{
		Model:             e.model,
		SystemInstruction: describePrompt,
		Messages:          []llm.Message{llm.TextMessage("user", sb.String())},
	})
	if err != nil {
		return "", fmt.Errorf("describe code: %w", err)
	}
	return strings.TrimSpace(desc), nil
}
