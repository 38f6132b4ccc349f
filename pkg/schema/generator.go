package schema

import (
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sandboxhq/sandboxd/pkg/template"
)

// Generation caps. Beyond MaxDepth a subtree yields null; the string,
// array, and extra-property caps bound output size.
const (
	DefaultMaxDepth  = 10
	defaultStringCap = 64
	defaultArrayCap  = 5
	defaultExtraCap  = 3

	optionalPropProbability = 0.7
)

var loremWords = []string{
	"lorem", "ipsum", "dolor", "sit", "amet", "consectetur",
	"adipiscing", "elit", "sed", "tempor", "incididunt", "labore",
}

// GeneratorOptions seed and bound one generator.
type GeneratorOptions struct {
	Seed      string
	RequestID string

	// UseExamples makes schema-level example values win over synthesis.
	UseExamples bool

	// Now anchors date and date-time generation. Zero means wall clock.
	Now time.Time

	MaxDepth int
}

// Generator synthesizes a value from a schema. All randomness draws
// from one seeded stream, so a generator built with the same options
// emits the same sequence of values call after call.
type Generator struct {
	faker *template.Faker
	opts  GeneratorOptions
}

// NewGenerator builds a generator seeded from (seed, request id).
func NewGenerator(opts GeneratorOptions) *Generator {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	return &Generator{
		faker: template.NewFaker(template.SeedFor(opts.Seed, opts.RequestID), opts.Now),
		opts:  opts,
	}
}

// Generate synthesizes one value. Failures inside a subtree collapse to
// null rather than propagating.
func (g *Generator) Generate(schema map[string]any) any {
	return g.gen(schema, 0)
}

func (g *Generator) gen(schema map[string]any, depth int) (out any) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()

	if depth > g.opts.MaxDepth || len(schema) == 0 {
		return nil
	}

	if g.opts.UseExamples {
		if example, ok := schema["example"]; ok {
			return example
		}
	}

	if hint := vendorString(schema, "faker"); hint != "" {
		if v, ok := g.faker.Generate(hint); ok {
			return v
		}
	}

	if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
		return g.pickEnum(schema, enum)
	}

	if allOf, ok := schema["allOf"].([]any); ok && len(allOf) > 0 {
		return g.gen(mergeAllOf(allOf), depth+1)
	}
	for _, kw := range []string{"oneOf", "anyOf"} {
		if subs, ok := schema[kw].([]any); ok && len(subs) > 0 {
			picked, _ := subs[g.faker.IntRange(0, len(subs)-1)].(map[string]any)
			return g.gen(picked, depth+1)
		}
	}

	switch schemaType(schema) {
	case "string":
		return g.genString(schema)
	case "integer":
		return math.Trunc(g.genNumber(schema, true))
	case "number":
		return g.genNumber(schema, false)
	case "boolean":
		return g.faker.Boolean()
	case "array":
		return g.genArray(schema, depth)
	case "object":
		return g.genObject(schema, depth)
	case "null":
		return nil
	default:
		// Untyped schemas carry no instruction to act on.
		return nil
	}
}

// schemaType resolves the effective type, preferring a non-null entry
// when the schema admits several.
func schemaType(schema map[string]any) string {
	switch t := schema["type"].(type) {
	case string:
		return t
	case []any:
		for _, entry := range t {
			if s, ok := entry.(string); ok && s != "null" {
				return s
			}
		}
		if len(t) > 0 {
			s, _ := t[0].(string)
			return s
		}
	}
	if _, ok := schema["properties"]; ok {
		return "object"
	}
	if _, ok := schema["items"]; ok {
		return "array"
	}
	return ""
}

// pickEnum draws one member, honoring x-sandbox.enumWeights when
// present. Unlisted members weigh 1.
func (g *Generator) pickEnum(schema map[string]any, enum []any) any {
	weights := vendorMap(schema, "enumWeights")
	if len(weights) == 0 {
		return enum[g.faker.IntRange(0, len(enum)-1)]
	}

	total := 0.0
	perMember := make([]float64, len(enum))
	for i, member := range enum {
		w := 1.0
		if raw, ok := weights[fmt.Sprintf("%v", member)]; ok {
			if n, ok := toFloat(raw); ok && n > 0 {
				w = n
			}
		}
		perMember[i] = w
		total += w
	}

	draw := g.faker.Float64() * total
	for i, member := range enum {
		draw -= perMember[i]
		if draw < 0 {
			return member
		}
	}
	return enum[len(enum)-1]
}

func (g *Generator) genString(schema map[string]any) string {
	if format, ok := schema["format"].(string); ok {
		if v, ok := g.formatString(format); ok {
			return v
		}
	}

	minLen := intField(schema, "minLength", 0)
	maxLen := intField(schema, "maxLength", defaultStringCap)
	if maxLen > defaultStringCap {
		maxLen = defaultStringCap
	}
	if maxLen < minLen {
		maxLen = minLen
	}

	var sb strings.Builder
	for sb.Len() < minLen || (sb.Len() == 0 && maxLen > 0) {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(loremWords[g.faker.IntRange(0, len(loremWords)-1)])
	}
	s := sb.String()
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	for len(s) < minLen {
		s += "x"
	}
	return s
}

func (g *Generator) formatString(format string) (string, bool) {
	switch format {
	case "uuid":
		return g.faker.UUID(), true
	case "email":
		return g.faker.Email(), true
	case "uri", "url":
		return g.faker.URL(), true
	case "hostname":
		return strings.ToLower(g.faker.LastName()) + ".example.com", true
	case "ipv4":
		return fmt.Sprintf("%d.%d.%d.%d",
			g.faker.IntRange(1, 254), g.faker.IntRange(0, 255),
			g.faker.IntRange(0, 255), g.faker.IntRange(1, 254)), true
	case "ipv6":
		parts := make([]string, 8)
		for i := range parts {
			parts[i] = fmt.Sprintf("%04x", g.faker.IntRange(0, 65535))
		}
		return strings.Join(parts, ":"), true
	case "date":
		return g.opts.Now.AddDate(0, 0, -g.faker.IntRange(0, 365)).Format("2006-01-02"), true
	case "date-time":
		return g.opts.Now.Add(-time.Duration(g.faker.IntRange(0, 365*24*3600)) * time.Second).Format(time.RFC3339), true
	case "time":
		return fmt.Sprintf("%02d:%02d:%02dZ",
			g.faker.IntRange(0, 23), g.faker.IntRange(0, 59), g.faker.IntRange(0, 59)), true
	case "password":
		return fmt.Sprintf("pa55-%08x", uint32(g.faker.IntRange(0, math.MaxInt32))), true
	case "byte":
		raw := make([]byte, 12)
		for i := range raw {
			raw[i] = byte(g.faker.IntRange(0, 255))
		}
		return base64.StdEncoding.EncodeToString(raw), true
	case "binary":
		return fmt.Sprintf("%08x", uint32(g.faker.IntRange(0, math.MaxInt32))), true
	default:
		return "", false
	}
}

func (g *Generator) genNumber(schema map[string]any, integer bool) float64 {
	lo := floatField(schema, "minimum", -1e6)
	hi := floatField(schema, "maximum", 1e6)
	if ex, ok := toFloat(schema["exclusiveMinimum"]); ok {
		lo = ex + 1
	}
	if ex, ok := toFloat(schema["exclusiveMaximum"]); ok {
		hi = ex - 1
	}
	if hi < lo {
		hi = lo
	}

	v := lo + g.faker.Float64()*(hi-lo)
	if step, ok := toFloat(schema["multipleOf"]); ok && step > 0 {
		v = math.Round(v/step) * step
		if v < lo {
			v += step
		}
		if v > hi {
			v -= step
		}
	}
	if integer {
		v = math.Trunc(v)
	}
	return v
}

func (g *Generator) genArray(schema map[string]any, depth int) []any {
	items, _ := schema["items"].(map[string]any)
	minItems := intField(schema, "minItems", 0)
	maxItems := intField(schema, "maxItems", defaultArrayCap)
	if maxItems > defaultArrayCap {
		maxItems = defaultArrayCap
	}
	if maxItems < minItems {
		maxItems = minItems
	}

	n := g.faker.IntRange(minItems, maxItems)
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.gen(items, depth+1))
	}

	if unique, _ := schema["uniqueItems"].(bool); unique {
		out = dedupeOnce(out)
	}
	return out
}

// dedupeOnce drops duplicate members by JSON identity in one pass.
func dedupeOnce(items []any) []any {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		key := fmt.Sprintf("%v", item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

func (g *Generator) genObject(schema map[string]any, depth int) map[string]any {
	properties, _ := schema["properties"].(map[string]any)
	required := requiredSet(schema)
	maxProps := intField(schema, "maxProperties", math.MaxInt32)

	out := make(map[string]any)

	// Sorted order keeps generation deterministic: map iteration order
	// would otherwise reshuffle the draw sequence.
	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if len(out) >= maxProps {
			break
		}
		propSchema, _ := properties[name].(map[string]any)
		if _, must := required[name]; !must {
			if g.faker.Float64() >= optionalPropProbability {
				continue
			}
		}
		out[name] = g.gen(propSchema, depth+1)
	}

	if extra, ok := schema["additionalProperties"].(map[string]any); ok {
		for i := 0; i < defaultExtraCap && len(out) < maxProps; i++ {
			out[fmt.Sprintf("extra%d", i)] = g.gen(extra, depth+1)
		}
	}
	return out
}

func requiredSet(schema map[string]any) map[string]struct{} {
	out := make(map[string]struct{})
	if list, ok := schema["required"].([]any); ok {
		for _, entry := range list {
			if name, ok := entry.(string); ok {
				out[name] = struct{}{}
			}
		}
	}
	return out
}

// mergeAllOf unions properties and required across subschemas; scalar
// keywords from later subschemas win.
func mergeAllOf(subs []any) map[string]any {
	merged := make(map[string]any)
	mergedProps := make(map[string]any)
	var mergedRequired []any
	for _, raw := range subs {
		sub, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for k, v := range sub {
			switch k {
			case "properties":
				if props, ok := v.(map[string]any); ok {
					for name, ps := range props {
						mergedProps[name] = ps
					}
				}
			case "required":
				if list, ok := v.([]any); ok {
					mergedRequired = append(mergedRequired, list...)
				}
			default:
				merged[k] = v
			}
		}
	}
	if len(mergedProps) > 0 {
		merged["properties"] = mergedProps
	}
	if len(mergedRequired) > 0 {
		merged["required"] = mergedRequired
	}
	return merged
}

func vendorString(schema map[string]any, key string) string {
	ext, ok := schema["x-sandbox"].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := ext[key].(string)
	return s
}

func vendorMap(schema map[string]any, key string) map[string]any {
	ext, ok := schema["x-sandbox"].(map[string]any)
	if !ok {
		return nil
	}
	m, _ := ext[key].(map[string]any)
	return m
}

func intField(schema map[string]any, key string, def int) int {
	if v, ok := toFloat(schema[key]); ok {
		return int(v)
	}
	return def
}

func floatField(schema map[string]any, key string, def float64) float64 {
	if v, ok := toFloat(schema[key]); ok {
		return v
	}
	return def
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
