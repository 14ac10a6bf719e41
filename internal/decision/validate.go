package decision

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// 决策文档的结构约束。上游偶尔会多给字段，这里只约束必需部分。
const decisionSchema = `{
	"type": "object",
	"required": ["action", "confidence"],
	"properties": {
		"action": {
			"type": "string",
			"enum": ["STRONG_BUY", "BUY", "HOLD", "SELL", "STRONG_SELL", "INSUFFICIENT_DATA"]
		},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"volatility_adjustment": {"type": "number", "minimum": 0},
		"primary_reason": {"type": "string"},
		"symbol": {"type": "string"},
		"analysis_date": {"type": "string"}
	}
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("decision.json", strings.NewReader(decisionSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("decision.json")
	})
	return schemaCompiled, schemaErr
}

// ParseDecisionDoc 校验并解析一份 JSON 决策文档。
//
// symbol 与 day 为引擎侧的权威值：文档里缺失时用它们补全，
// 文档里给了但与引擎侧不一致时以引擎侧为准（上游无权改写分析日期）。
func ParseDecisionDoc(raw, symbol string, day time.Time) (types.Decision, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.Decision{}, fmt.Errorf("决策文档为空")
	}
	if !gjson.Valid(raw) {
		return types.Decision{}, fmt.Errorf("决策文档不是合法 JSON")
	}

	schema, err := compiledSchema()
	if err != nil {
		return types.Decision{}, fmt.Errorf("决策 schema 编译失败: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return types.Decision{}, err
	}
	if err := schema.Validate(doc); err != nil {
		return types.Decision{}, fmt.Errorf("决策文档不符合 schema: %w", err)
	}

	parsed := gjson.Parse(raw)
	d := types.Decision{
		Action:               types.Action(parsed.Get("action").String()),
		Confidence:           parsed.Get("confidence").Float(),
		VolatilityAdjustment: 1.0,
		Symbol:               symbol,
		PrimaryReason:        strings.TrimSpace(parsed.Get("primary_reason").String()),
		AnalysisDate:         temporal.DateOf(day),
	}
	if v := parsed.Get("volatility_adjustment"); v.Exists() {
		d.VolatilityAdjustment = v.Float()
	}
	return d, nil
}
