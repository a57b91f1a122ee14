package llmclient

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/tasker/types"
)

// Tokenizer estimates token counts for history-compaction budgeting
// (spec §4.E: compact once history exceeds the model's token budget).
type Tokenizer interface {
	CountText(text string) int
	CountMessages(messages []types.Message) int
}

// NewTokenizer returns a tiktoken-backed tokenizer for OpenAI-family
// models and a CJK-aware character estimator for everything else
// (Anthropic and Gemini don't publish a usable open encoder).
func NewTokenizer(provider, model string) Tokenizer {
	if provider == "openai" {
		if t, err := newTiktokenTokenizer(model); err == nil {
			return t
		}
	}
	return newEstimatorTokenizer()
}

// estimatorTokenizer is a character-count estimator, distinguishing CJK
// from ASCII for better accuracy than a flat len/4 heuristic.
type estimatorTokenizer struct{}

func newEstimatorTokenizer() *estimatorTokenizer { return &estimatorTokenizer{} }

func (e *estimatorTokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

func (e *estimatorTokenizer) CountMessages(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += e.CountText(m.Text) + 4
		for _, tc := range tc(m) {
			total += e.CountText(tc)
		}
	}
	return total + 3
}

// tc flattens a message's tool-call names/results into plain strings for
// token estimation, since their structure doesn't matter for a count.
func tc(m types.Message) []string {
	out := make([]string, 0, len(m.ToolCalls)+len(m.ToolResults))
	for _, c := range m.ToolCalls {
		out = append(out, c.Name)
	}
	for _, r := range m.ToolResults {
		out = append(out, r.Result, r.Error)
	}
	return out
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF)
}

// tiktokenTokenizer wraps pkoukk/tiktoken-go for OpenAI-family models.
// Encoding data loads lazily on first use, since GetEncoding may fetch
// the BPE ranks file on a cold cache.
type tiktokenTokenizer struct {
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

func newTiktokenTokenizer(model string) (*tiktokenTokenizer, error) {
	encoding := "cl100k_base"
	for prefix, enc := range modelEncodings {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			encoding = enc
			break
		}
	}
	return &tiktokenTokenizer{encoding: encoding}, nil
}

func (t *tiktokenTokenizer) init() error {
	t.once.Do(func() {
		t.enc, t.initErr = tiktoken.GetEncoding(t.encoding)
	})
	return t.initErr
}

func (t *tiktokenTokenizer) CountText(text string) int {
	if err := t.init(); err != nil {
		return newEstimatorTokenizer().CountText(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *tiktokenTokenizer) CountMessages(messages []types.Message) int {
	if err := t.init(); err != nil {
		return newEstimatorTokenizer().CountMessages(messages)
	}
	total := 0
	for _, m := range messages {
		total += 4 + t.CountText(m.Text) + t.CountText(string(m.Role))
		for _, s := range tc(m) {
			total += t.CountText(s)
		}
	}
	return total + 3
}
