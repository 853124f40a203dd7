package decision

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"decisiongate/internal/fallback"
	"decisiongate/internal/pkg/jsonutil"
)

// ErrInvalidPayload 表示模型输出无法解析或不符合决策 schema。
var ErrInvalidPayload = errors.New("decision: invalid model payload")

//go:embed schema/decision.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("decision.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("decision.schema.json")
	})
	return schema, schemaErr
}

// numericFields may arrive as strings ("0.8") from looser models.
var numericFields = []string{"confidence", "position_size", "risk_level"}

// Parse validates a model reply and extracts the decision. Code fences
// and surrounding prose are tolerated.
func Parse(payload string) (Decision, error) {
	block, ok := jsonutil.ExtractObject(payload)
	if !ok || !gjson.Valid(block) {
		return Decision{}, fmt.Errorf("%w: no JSON object found", ErrInvalidPayload)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(block), &doc); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	normalize(doc)

	sch, err := compiledSchema()
	if err != nil {
		return Decision{}, fmt.Errorf("compile decision schema: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	parsed := gjson.ParseBytes(normalized)
	return Decision{
		Action:       fallback.Action(parsed.Get("action").String()),
		Confidence:   parsed.Get("confidence").Float(),
		Rationale:    strings.TrimSpace(parsed.Get("rationale").String()),
		PositionSize: parsed.Get("position_size").Float(),
		RiskLevel:    parsed.Get("risk_level").Float(),
		Source:       SourceModel,
	}, nil
}

// normalize lower-cases the action and converts numeric strings in place.
func normalize(doc map[string]any) {
	if a, ok := doc["action"].(string); ok {
		doc["action"] = strings.ToLower(strings.TrimSpace(a))
	}
	for _, key := range numericFields {
		s, ok := doc[key].(string)
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			doc[key] = f
		}
	}
}
