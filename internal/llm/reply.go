package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reply is the classified form of a raw model response. It is resolved
// immediately after a call so callers never inspect raw text.
type Reply interface {
	isReply()
}

// StructuredReply holds a parsed JSON object.
type StructuredReply struct {
	Object map[string]any
	JSON   string
}

// MalformedReply holds text that should have been JSON but was not.
type MalformedReply struct {
	Raw string
	Err error
}

// RefusalReply holds a model's refusal to answer.
type RefusalReply struct {
	Text string
}

func (StructuredReply) isReply() {}
func (MalformedReply) isReply()  {}
func (RefusalReply) isReply()    {}

var refusalMarkers = []string{
	"i cannot",
	"i can't",
	"i can not",
	"i'm sorry",
	"i am sorry",
	"i am unable",
	"i'm unable",
	"unable to comply",
	"as an ai",
}

// ClassifyReply sorts a raw reply into structured, malformed or refusal.
func ClassifyReply(raw string) Reply {
	cleaned := CleanJSONBlock(raw)
	if cleaned == "" {
		return MalformedReply{Raw: raw, Err: fmt.Errorf("empty reply")}
	}

	if strings.HasPrefix(cleaned, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
			return MalformedReply{Raw: raw, Err: fmt.Errorf("invalid JSON object: %w", err)}
		}
		return StructuredReply{Object: obj, JSON: cleaned}
	}

	lower := strings.ToLower(cleaned)
	for _, marker := range refusalMarkers {
		if strings.Contains(lower, marker) {
			return RefusalReply{Text: cleaned}
		}
	}

	if strings.HasPrefix(cleaned, "[") {
		return MalformedReply{Raw: raw, Err: fmt.Errorf("expected JSON object, got array")}
	}
	return MalformedReply{Raw: raw, Err: fmt.Errorf("reply is not JSON")}
}
