package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// errNoVerdict is wrapped when a response carries no usable answer.
var errNoVerdict = errors.New("no verdict in model response")

// answerKeys are the JSON keys accepted as the answer, in lookup order.
var answerKeys = []string{"match", "matches", "matched", "result", "answer"}

// ParseVerdict extracts a verdict from the model's raw reply. It accepts a
// JSON object with a boolean or yes/no answer under one of answerKeys, a
// bare JSON boolean, or a bare yes/no word. Markdown code fences around the
// reply are ignored.
func ParseVerdict(raw string) (Verdict, error) {
	text := stripCodeFence(raw)
	if text == "" {
		return NotMatched, &ClassifierError{
			Reason: ReasonMalformed, Err: errNoVerdict,
		}
	}

	if v, ok := wordVerdict(text); ok {
		return v, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return NotMatched, &ClassifierError{
			Reason: ReasonMalformed,
			Err:    fmt.Errorf("%w: %q", errNoVerdict, truncate(raw)),
		}
	}

	for _, key := range answerKeys {
		val, ok := lookupFold(obj, key)
		if !ok {
			continue
		}

		switch v := val.(type) {
		case bool:
			if v {
				return Matched, nil
			}
			return NotMatched, nil

		case string:
			if verdict, ok := wordVerdict(v); ok {
				return verdict, nil
			}
		}
	}

	return NotMatched, &ClassifierError{
		Reason: ReasonMalformed,
		Err:    fmt.Errorf("%w: %q", errNoVerdict, truncate(raw)),
	}
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	// Drop an info string such as "json" on the opening fence line.
	if nl := strings.IndexByte(text, '\n'); nl >= 0 &&
		!strings.ContainsAny(text[:nl], "{[") {

		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}

	return strings.TrimSpace(text)
}

// wordVerdict interprets a bare answer word.
func wordVerdict(s string) (Verdict, bool) {
	word := strings.ToLower(strings.Trim(strings.TrimSpace(s), `."'!`))
	switch word {
	case "true", "yes", "y", "match", "matched":
		return Matched, true
	case "false", "no", "n", "no match", "not_matched", "not matched":
		return NotMatched, true
	default:
		return NotMatched, false
	}
}

func lookupFold(obj map[string]any, key string) (any, bool) {
	if v, ok := obj[key]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}

	return nil, false
}

func truncate(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}

	return s[:max] + "..."
}
