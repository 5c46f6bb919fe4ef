// Package intent classifies free-text confirmation replies.
//
// During a confirmation step the user answers with natural speech ("yes do
// it", "确认", "never mind"). The classifier maps that utterance onto a small
// set of intents by testing configured keyword lists in priority order.
// It is pure and stateless; keyword tables are data so they can be swapped
// for another locale without touching code.
package intent

import "strings"

// Intent is the outcome of classifying a confirmation reply.
type Intent int

const (
	// IntentUnknown means no keyword list matched. Callers should fall back
	// to explicit manual controls.
	IntentUnknown Intent = iota
	// IntentConfirm approves the pending action.
	IntentConfirm
	// IntentRetry asks to re-capture or re-interpret the request.
	IntentRetry
	// IntentCancel abandons the pending action.
	IntentCancel
)

// String returns a human-readable intent name.
func (i Intent) String() string {
	switch i {
	case IntentConfirm:
		return "CONFIRM"
	case IntentRetry:
		return "RETRY"
	case IntentCancel:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// Keywords holds the phrase lists for each intent. Matching is by substring
// containment against the normalized transcript.
type Keywords struct {
	Confirm []string `yaml:"confirm"`
	Retry   []string `yaml:"retry"`
	Cancel  []string `yaml:"cancel"`
}

// DefaultKeywords returns the built-in bilingual keyword tables.
func DefaultKeywords() Keywords {
	return Keywords{
		Confirm: []string{
			"确认", "确定", "可以", "好的", "是的", "执行",
			"yes", "confirm", "ok", "okay", "sure", "go ahead", "do it",
		},
		Retry: []string{
			"重试", "再试", "重新", "再来一次",
			"retry", "try again", "again", "once more",
		},
		Cancel: []string{
			"取消", "算了", "不要", "不用",
			"cancel", "no", "stop", "never mind", "forget it",
		},
	}
}

// Classifier maps transcripts to intents using keyword tables.
type Classifier struct {
	keywords Keywords
	fallback Intent
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithKeywords replaces the default keyword tables.
func WithKeywords(kw Keywords) Option {
	return func(c *Classifier) { c.keywords = kw }
}

// WithFallback sets the intent returned when nothing matches. The safe
// default is IntentUnknown, which lets the caller show manual controls;
// some deployments prefer treating ambiguous replies as confirmation.
func WithFallback(intent Intent) Option {
	return func(c *Classifier) { c.fallback = intent }
}

// NewClassifier creates a classifier with the default tables and an
// IntentUnknown fallback.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		keywords: DefaultKeywords(),
		fallback: IntentUnknown,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the intent for a transcript. It is total: every input maps
// to exactly one intent. Confirm keywords win over retry keywords, which win
// over cancel keywords; the first containment match decides.
func (c *Classifier) Classify(transcript string) Intent {
	text := strings.ToLower(strings.TrimSpace(transcript))
	if text == "" {
		return c.fallback
	}

	if containsAny(text, c.keywords.Confirm) {
		return IntentConfirm
	}
	if containsAny(text, c.keywords.Retry) {
		return IntentRetry
	}
	if containsAny(text, c.keywords.Cancel) {
		return IntentCancel
	}
	return c.fallback
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
