package spec

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

// Load reads and parses a specification file (JSON or YAML).
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Source: path, Msg: "read document", Err: err}
	}
	return LoadBytes(data, path)
}

// LoadBytes parses a specification from raw bytes. The source string is
// used in error messages only.
func LoadBytes(data []byte, source string) (*Document, error) {
	if err := gate(data, source); err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Source: source, Msg: "parse document", Err: err}
	}
	return FromMap(raw)
}

// FromMap builds a Document from an already-parsed tree. The input is
// not mutated; references are inlined into a deep clone.
func FromMap(raw map[string]any) (*Document, error) {
	inlined, err := inlineRefs(raw)
	if err != nil {
		return nil, err
	}

	ops, err := buildOperations(inlined)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Raw:        inlined,
		Operations: ops,
		byID:       make(map[string]*Operation, len(ops)),
	}
	for _, op := range ops {
		doc.byID[op.ID] = op
	}
	return doc, nil
}

// gate runs the document through the kin-openapi loader so malformed
// documents and unresolvable references fail before our own pass.
// Structural validation is applied to 3.0.x documents only; 3.1 support
// in the library is partial and a mock server wants to stay permissive.
func gate(data []byte, source string) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	t, err := loader.LoadFromData(data)
	if err != nil {
		return &Error{Source: source, Msg: "load document", Err: err}
	}
	if strings.HasPrefix(t.OpenAPI, "3.0") {
		if err := t.Validate(context.Background()); err != nil {
			return &Error{Source: source, Msg: "validate document", Err: err}
		}
	}
	return nil
}

// inlineRefs returns a deep clone of the tree with every local $ref
// pointer replaced by its target. Revisiting a reference already on the
// resolution stack yields an empty schema, breaking cycles. Non-local
// and dangling references are errors.
func inlineRefs(root map[string]any) (map[string]any, error) {
	out, err := resolveNode(root, root, map[string]bool{})
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, &Error{Msg: "document root is not an object"}
	}
	return m, nil
}

func resolveNode(node any, root map[string]any, active map[string]bool) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok {
			if !strings.HasPrefix(ref, "#/") {
				return nil, &Error{Source: ref, Msg: "non-local reference"}
			}
			if active[ref] {
				// Cycle: emit an empty (accept-anything) schema.
				return map[string]any{}, nil
			}
			target, ok := lookupPointer(root, ref)
			if !ok {
				return nil, &Error{Source: ref, Msg: "dangling reference"}
			}
			active[ref] = true
			resolved, err := resolveNode(target, root, active)
			delete(active, ref)
			return resolved, err
		}
		out := make(map[string]any, len(v))
		for k, val := range v {
			r, err := resolveNode(val, root, active)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			r, err := resolveNode(val, root, active)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// lookupPointer walks a local JSON pointer ("#/components/schemas/Pet").
func lookupPointer(root map[string]any, ref string) (any, bool) {
	var cur any = root
	for _, tok := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		tok = strings.ReplaceAll(tok, "~1", "/")
		tok = strings.ReplaceAll(tok, "~0", "~")
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[tok]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func buildOperations(raw map[string]any) ([]*Operation, error) {
	paths, _ := raw["paths"].(map[string]any)
	if paths == nil {
		return nil, &Error{Msg: "document has no paths object"}
	}

	// Sorted for a deterministic table; matcher specificity decides routing.
	pathKeys := make([]string, 0, len(paths))
	for p := range paths {
		pathKeys = append(pathKeys, p)
	}
	sort.Strings(pathKeys)

	var ops []*Operation
	seen := make(map[string]string)

	for _, path := range pathKeys {
		item, ok := paths[path].(map[string]any)
		if !ok {
			continue
		}
		pathParams := parseParams(item["parameters"])

		for _, method := range Methods {
			rawOp, ok := item[strings.ToLower(method)].(map[string]any)
			if !ok {
				continue
			}

			op := &Operation{
				Method:   method,
				Path:     path,
				VarNames: pathVarNames(path),
			}
			if opID, ok := rawOp["operationId"].(string); ok && opID != "" {
				op.ID = opID
			} else {
				op.ID = deriveOperationID(method, path)
			}
			if prev, dup := seen[op.ID]; dup {
				return nil, &Error{Source: op.ID, Msg: fmt.Sprintf("duplicate operationId (also used by %s)", prev)}
			}
			seen[op.ID] = method + " " + path

			op.Params = mergeParams(pathParams, parseParams(rawOp["parameters"]))
			op.RequestSchema = requestBodySchema(rawOp["requestBody"])
			op.Responses = parseResponses(rawOp["responses"])

			ops = append(ops, op)
		}
	}
	return ops, nil
}

func parseParams(v any) []Param {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Param, 0, len(list))
	for _, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		p := Param{}
		p.Name, _ = m["name"].(string)
		p.In, _ = m["in"].(string)
		p.Required, _ = m["required"].(bool)
		if p.In == "path" {
			p.Required = true
		}
		if s, ok := m["schema"].(map[string]any); ok {
			p.Schema = s
		}
		if p.Name != "" && p.In != "" {
			out = append(out, p)
		}
	}
	return out
}

// mergeParams combines path-level and operation-level parameters;
// operation-level wins on (name, in) collisions.
func mergeParams(pathLevel, opLevel []Param) []Param {
	merged := make([]Param, 0, len(pathLevel)+len(opLevel))
	override := make(map[string]bool, len(opLevel))
	for _, p := range opLevel {
		override[p.In+"\x00"+p.Name] = true
	}
	for _, p := range pathLevel {
		if !override[p.In+"\x00"+p.Name] {
			merged = append(merged, p)
		}
	}
	return append(merged, opLevel...)
}

func requestBodySchema(v any) map[string]any {
	body, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	content := contentSchemas(body["content"])
	return JSONSchema(content)
}

func parseResponses(v any) map[string]*Response {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]*Response, len(raw))
	for code, rv := range raw {
		rm, ok := rv.(map[string]any)
		if !ok {
			continue
		}
		resp := &Response{Status: code, Content: contentSchemas(rm["content"])}
		if headers, ok := rm["headers"].(map[string]any); ok {
			resp.Headers = make(map[string]map[string]any, len(headers))
			for name, hv := range headers {
				if hm, ok := hv.(map[string]any); ok {
					if hs, ok := hm["schema"].(map[string]any); ok {
						resp.Headers[name] = hs
					} else {
						resp.Headers[name] = map[string]any{}
					}
				}
			}
		}
		out[code] = resp
	}
	return out
}

func contentSchemas(v any) map[string]map[string]any {
	content, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]map[string]any, len(content))
	for mt, mv := range content {
		mm, ok := mv.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := mm["schema"].(map[string]any); ok {
			out[mt] = s
		} else {
			out[mt] = map[string]any{}
		}
	}
	return out
}
