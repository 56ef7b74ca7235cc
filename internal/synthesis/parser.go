package synthesis

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-service/internal/model"
)

// toolPayload is the raw shape the extraction tool call returns.
type toolPayload struct {
	Fields []struct {
		Key        string  `json:"key"`
		Value      any     `json:"value"`
		Confidence float64 `json:"confidence"`
		Snippet    string  `json:"snippet,omitempty"`
	} `json:"fields"`
}

// ParseToolPayload validates and coerces a raw extraction payload into
// page candidates. Entries with unknown keys, null values, or values
// that cannot be coerced to the field's declared type are dropped with a
// log line rather than failing the page.
func ParseToolPayload(registry *model.FieldRegistry, raw json.RawMessage, pageURL string) ([]PageCandidate, error) {
	var payload toolPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, eris.Wrap(err, "synthesis: decode extraction payload")
	}

	out := make([]PageCandidate, 0, len(payload.Fields))
	for _, f := range payload.Fields {
		field := registry.ByKey(f.Key)
		if field == nil {
			zap.L().Debug("synthesis: payload references unknown field",
				zap.String("field", f.Key),
				zap.String("url", pageURL),
			)
			continue
		}
		if f.Value == nil {
			continue
		}

		value, ok := coerceValue(f.Value, field.Type)
		if !ok {
			zap.L().Warn("synthesis: dropping uncoercible value",
				zap.String("field", f.Key),
				zap.String("type", string(field.Type)),
				zap.Any("value", f.Value),
				zap.String("url", pageURL),
			)
			continue
		}

		out = append(out, PageCandidate{
			FieldKey:   f.Key,
			Value:      value,
			Confidence: clamp01(f.Confidence),
			Snippet:    f.Snippet,
		})
	}
	return out, nil
}

// coerceValue converts a raw JSON value to the field's declared type.
func coerceValue(v any, t model.FieldType) (any, bool) {
	switch t {
	case model.FieldTypeString:
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		return s, s != ""

	case model.FieldTypeNumber:
		return toFloat(v)

	case model.FieldTypeBoolean:
		return toBool(v)

	case model.FieldTypeURL:
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		u, err := url.Parse(s)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, false
		}
		return s, true

	case model.FieldTypeEmail:
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		if _, err := mail.ParseAddress(s); err != nil {
			return nil, false
		}
		return s, true

	case model.FieldTypePhone:
		s := fmt.Sprintf("%v", v)
		cleaned := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' || r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' {
				return r
			}
			return -1
		}, s)
		if len(cleaned) < 7 {
			return nil, false
		}
		return cleaned, true

	default:
		return v, true
	}
}

func toFloat(v any) (any, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		cleaned := strings.ReplaceAll(n, ",", "")
		cleaned = strings.TrimPrefix(cleaned, "$")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

func toBool(v any) (any, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(b) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
		return nil, false
	case float64:
		return b != 0, true
	default:
		return nil, false
	}
}
