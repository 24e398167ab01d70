package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	pferrors "github.com/otherjamesbrown/triaged/pkg/errors"
)

// classificationEnvelope matches the structured response shape.
type classificationEnvelope struct {
	Classifications []Classification `json:"classifications"`
}

// ParseClassifications decodes model output into classifications. Structured
// responses decode directly; fallback responses are first stripped of an
// enclosing markdown code fence, then trimmed and decoded. Both the
// envelope form {"classifications": [...]} and a bare array are accepted.
func ParseClassifications(content string) ([]Classification, error) {
	cleaned := StripFences(content)
	if cleaned == "" {
		return nil, pferrors.New(pferrors.ErrSchemaViolation, "gateway", "empty response content", nil)
	}

	var envelope classificationEnvelope
	if err := json.Unmarshal([]byte(cleaned), &envelope); err == nil && envelope.Classifications != nil {
		return envelope.Classifications, nil
	}

	var bare []Classification
	if err := json.Unmarshal([]byte(cleaned), &bare); err != nil {
		return nil, pferrors.New(pferrors.ErrSchemaViolation, "gateway", fmt.Sprintf("decode classifications: %v", err), err)
	}
	return bare, nil
}

// StripFences removes an enclosing ```json or ``` markdown code fence and
// trims surrounding whitespace. Content without a fence passes through
// untouched apart from trimming.
func StripFences(content string) string {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
