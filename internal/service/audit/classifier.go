package audit

import (
	"strings"
)

// RedactionMarker replaces sensitive leaf values in display copies
const RedactionMarker = "[REDACTED]"

// sensitiveVocabulary is the defense-in-depth fallback: a field whose key
// contains any of these substrings (case-insensitive) is sensitive even when
// the producing module declared nothing. Producer-declared field tags are the
// preferred mechanism (see Classify).
var sensitiveVocabulary = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"private_key",
	"credential",
	"card_number",
	"cardnumber",
	"account_number",
	"accountnumber",
	"iban",
	"routing_number",
	"cvv",
	"cvc",
	"ssn",
	"social_security",
	"national_id",
	"passport",
	"tax_id",
}

// Classification is the result of sanitizing one payload
type Classification struct {
	// Display is a deep copy with sensitive leaf values replaced by the
	// redaction marker. The input payload is never mutated.
	Display map[string]interface{}

	// IsSensitive reports whether any sensitive field was found
	IsSensitive bool

	// Fields lists the key names that were redacted
	Fields []string
}

// Classifier tags and redacts sensitive fields. Pure function over the
// payload: no state, never fails. Unknown or malformed input passes through
// unchanged and non-sensitive (fail-open on classification; encryption fails
// closed separately).
type Classifier struct {
	vocabulary []string
}

// NewClassifier creates a classifier with the built-in vocabulary plus any
// extra configured terms.
func NewClassifier(extraTerms []string) *Classifier {
	vocabulary := make([]string, 0, len(sensitiveVocabulary)+len(extraTerms))
	vocabulary = append(vocabulary, sensitiveVocabulary...)
	for _, term := range extraTerms {
		if t := strings.ToLower(strings.TrimSpace(term)); t != "" {
			vocabulary = append(vocabulary, t)
		}
	}
	return &Classifier{vocabulary: vocabulary}
}

// Classify walks the payload recursively through nested maps and arrays.
// declaredSensitive are field names tagged sensitive by the producing module
// at the call site (exact key match, case-insensitive); the substring
// vocabulary remains as fallback.
func (c *Classifier) Classify(payload map[string]interface{}, declaredSensitive []string) Classification {
	result := Classification{}
	if payload == nil {
		return result
	}

	declared := make(map[string]struct{}, len(declaredSensitive))
	for _, field := range declaredSensitive {
		declared[strings.ToLower(field)] = struct{}{}
	}

	result.Display = c.redactMap(payload, declared, &result)
	return result
}

func (c *Classifier) redactMap(in map[string]interface{}, declared map[string]struct{}, result *Classification) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		if c.isSensitiveKey(key, declared) {
			out[key] = RedactionMarker
			result.IsSensitive = true
			result.Fields = append(result.Fields, key)
			continue
		}
		out[key] = c.redactValue(value, declared, result)
	}
	return out
}

func (c *Classifier) redactValue(value interface{}, declared map[string]struct{}, result *Classification) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return c.redactMap(v, declared, result)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = c.redactValue(item, declared, result)
		}
		return out
	default:
		// Leaves pass through unchanged, whatever their type
		return v
	}
}

func (c *Classifier) isSensitiveKey(key string, declared map[string]struct{}) bool {
	lower := strings.ToLower(key)
	if _, ok := declared[lower]; ok {
		return true
	}
	for _, term := range c.vocabulary {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
