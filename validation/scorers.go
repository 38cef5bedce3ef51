package validation

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// chatLogsSchema is the built-in quality schema for the chat-logs
// dataType: a priced bundle of speaker/text/timestamp entries.
const chatLogsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["entries"],
  "properties": {
    "price": {"type": ["number", "string"]},
    "entries": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["speaker", "text", "timestamp"],
        "properties": {
          "speaker": {"type": "string", "minLength": 1},
          "text": {"type": "string"},
          "timestamp": {"type": ["string", "number"]}
        }
      }
    }
  }
}`

// scoreQuality grades structure: schema conformance, field completeness
// and timestamp coherence. 100 is a clean artifact; each defect class
// takes a fixed bite.
func scoreQuality(doc any, raw []byte, schema *gojsonschema.Schema) (uint8, []string) {
	score := 100.0
	var issues []string

	if schema != nil {
		result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
		switch {
		case err != nil:
			score -= 40
			issues = append(issues, "quality: schema check failed: "+err.Error())
		case !result.Valid():
			score -= 40
			for i, desc := range result.Errors() {
				if i == 3 {
					issues = append(issues, fmt.Sprintf("quality: …and %d more schema violations", len(result.Errors())-3))
					break
				}
				issues = append(issues, "quality: schema: "+desc.String())
			}
		}
	}

	entries := extractEntries(doc)
	if len(entries) > 0 {
		incomplete := 0
		for _, entry := range entries {
			if entryIncomplete(entry) {
				incomplete++
			}
		}
		if incomplete > 0 {
			frac := float64(incomplete) / float64(len(entries))
			score -= math.Round(30 * frac)
			issues = append(issues, fmt.Sprintf("quality: %d of %d entries have empty fields", incomplete, len(entries)))
		}

		stamps, unparseable := collectTimestamps(entries)
		if unparseable > 0 {
			score -= 15
			issues = append(issues, fmt.Sprintf("quality: %d unparseable timestamps", unparseable))
		}
		if !nondecreasing(stamps) {
			score -= 15
			issues = append(issues, "quality: timestamps are not in order")
		}
	}

	return clampScore(score), issues
}

// scoreFraud grades authenticity heuristics over the entry set:
// duplicate entries, near-identical entries that differ only in spacing
// or case, and suspiciously uniform sizes.
func scoreFraud(doc any) (uint8, []string) {
	entries := extractEntries(doc)
	if len(entries) == 0 {
		// Nothing to judge: a structurally empty artifact earns no
		// authenticity credit that could offset its quality score.
		return neutralFraud, []string{"fraud: no entries to assess"}
	}
	if len(entries) == 1 {
		// One entry cannot duplicate itself.
		return 100, nil
	}

	score := 100.0
	var issues []string

	exact := make(map[[32]byte]struct{}, len(entries))
	relaxed := make(map[[32]byte]struct{}, len(entries))
	sizes := make(map[int]struct{})
	for _, entry := range entries {
		canonical, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		exact[sha256.Sum256(canonical)] = struct{}{}
		normalized := strings.ToLower(strings.Join(strings.Fields(string(canonical)), ""))
		relaxed[sha256.Sum256([]byte(normalized))] = struct{}{}
		sizes[len(canonical)] = struct{}{}
	}

	total := len(entries)
	if dupes := total - len(exact); dupes > 0 {
		score -= math.Round(60 * float64(dupes) / float64(total))
		issues = append(issues, fmt.Sprintf("fraud: %d duplicate entries of %d", dupes, total))
	}
	if near := len(exact) - len(relaxed); near > 0 {
		score -= math.Round(20 * float64(near) / float64(total))
		issues = append(issues, fmt.Sprintf("fraud: %d near-identical entries of %d", near, total))
	}
	if total >= 5 && len(sizes) == 1 {
		score -= 20
		issues = append(issues, "fraud: all entries are byte-identical in size")
	}

	return clampScore(score), issues
}

// neutralFraud is the score when authenticity cannot be judged.
const neutralFraud = 50

// neutralPrice is the score when fairness cannot be judged.
const neutralPrice = 50

// scorePrice compares the artifact's declared price to the historical
// band for its dataType. No band means no judgment, not a failure.
func scorePrice(doc any, dataType string, bands map[string]PriceBand) (uint8, []string) {
	band, ok := bands[dataType]
	if !ok {
		return neutralPrice, []string{"unknown-type"}
	}

	price, declared := declaredPrice(doc)
	if !declared {
		return 60, []string{"price: artifact declares no price"}
	}

	switch {
	case price >= band.Low && price <= band.High:
		return 100, nil
	case price < band.Low:
		// Too cheap reads as dumped or stolen data.
		return clampScore(math.Round(100 * price / band.Low)),
			[]string{fmt.Sprintf("price: %.0f below the %s band [%.0f, %.0f]", price, dataType, band.Low, band.High)}
	default:
		return clampScore(math.Round(100 * band.High / price)),
			[]string{fmt.Sprintf("price: %.0f above the %s band [%.0f, %.0f]", price, dataType, band.Low, band.High)}
	}
}

// extractEntries finds the record list: either the document is an array,
// or it carries one under "entries".
func extractEntries(doc any) []any {
	switch v := doc.(type) {
	case []any:
		return v
	case map[string]any:
		if entries, ok := v["entries"].([]any); ok {
			return entries
		}
	}
	return nil
}

func entryIncomplete(entry any) bool {
	fields, ok := entry.(map[string]any)
	if !ok {
		return true
	}
	if len(fields) == 0 {
		return true
	}
	for _, v := range fields {
		switch val := v.(type) {
		case nil:
			return true
		case string:
			if strings.TrimSpace(val) == "" {
				return true
			}
		}
	}
	return false
}

// collectTimestamps pulls the "timestamp" field of each entry as unix
// seconds. Strings are RFC 3339 or stringified numbers.
func collectTimestamps(entries []any) (stamps []int64, unparseable int) {
	for _, entry := range entries {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		raw, present := fields["timestamp"]
		if !present {
			continue
		}
		switch v := raw.(type) {
		case float64:
			stamps = append(stamps, int64(v))
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				stamps = append(stamps, ts.Unix())
			} else if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				stamps = append(stamps, n)
			} else {
				unparseable++
			}
		default:
			unparseable++
		}
	}
	return stamps, unparseable
}

func nondecreasing(stamps []int64) bool {
	for i := 1; i < len(stamps); i++ {
		if stamps[i] < stamps[i-1] {
			return false
		}
	}
	return true
}

// declaredPrice reads a top-level "price" field, tolerating both JSON
// numbers and decimal strings.
func declaredPrice(doc any) (float64, bool) {
	fields, ok := doc.(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := fields["price"].(type) {
	case float64:
		return v, true
	case string:
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			return p, true
		}
	}
	return 0, false
}
