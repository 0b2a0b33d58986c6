package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// BlendMode selects how a layer's colour combines with the canvas beneath it.
type BlendMode string

const (
	BlendNormal   BlendMode = "Normal"
	BlendMultiply BlendMode = "Multiply"
	BlendOverlay  BlendMode = "Overlay"
)

// ParseBlendMode accepts the canonical names case-insensitively; empty means Normal.
func ParseBlendMode(s string) (BlendMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return BlendNormal, nil
	case "multiply":
		return BlendMultiply, nil
	case "overlay":
		return BlendOverlay, nil
	default:
		return "", fmt.Errorf("unknown blend mode %q", s)
	}
}

func (m *BlendMode) UnmarshalText(text []byte) error {
	parsed, err := ParseBlendMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Point is an (x, y) pixel offset.
type Point [2]int64

func (p Point) X() int64 { return p[0] }
func (p Point) Y() int64 { return p[1] }

// Size is a (width, height) pair in pixels.
type Size [2]int

func (s Size) Width() int  { return s[0] }
func (s Size) Height() int { return s[1] }

type Transform struct {
	Offset Point `json:"offset" yaml:"offset"`
	// Scale is a uniform factor; 1 leaves the layer unchanged.
	Scale float64 `json:"scale" yaml:"scale"`
	// Rotate is in degrees, clockwise.
	Rotate float64 `json:"rotate" yaml:"rotate"`
}

func DefaultTransform() Transform {
	return Transform{Scale: 1}
}

func (t *Transform) UnmarshalJSON(data []byte) error {
	type plain Transform
	out := plain(DefaultTransform())
	if err := decodeStrictJSON(data, &out); err != nil {
		return err
	}
	*t = Transform(out)
	return nil
}

func (t *Transform) UnmarshalYAML(node *yaml.Node) error {
	type plain Transform
	out := plain(DefaultTransform())
	if err := checkYAMLKeys(node, "transform", "offset", "scale", "rotate"); err != nil {
		return err
	}
	if err := node.Decode(&out); err != nil {
		return err
	}
	*t = Transform(out)
	return nil
}

// decodeStrictJSON decodes one nested object, rejecting unknown fields like
// the top-level decoder does.
func decodeStrictJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// checkYAMLKeys rejects mapping keys outside known. node.Decode does not
// inherit the decoder's KnownFields setting.
func checkYAMLKeys(node *yaml.Node, kind string, known ...string) error {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if !slices.Contains(known, key.Value) {
			return fmt.Errorf("line %d: field %s not found in %s", key.Line, key.Value, kind)
		}
	}
	return nil
}

// Layer paints one aliased asset onto the canvas.
type Layer struct {
	Ref       string    `json:"ref" yaml:"ref"`
	Transform Transform `json:"transform" yaml:"transform"`
	BlendMode BlendMode `json:"blend_mode" yaml:"blend_mode"`
	Opacity   float64   `json:"opacity" yaml:"opacity"`
}

func defaultLayer() Layer {
	return Layer{Transform: DefaultTransform(), BlendMode: BlendNormal, Opacity: 1}
}

func (l *Layer) UnmarshalJSON(data []byte) error {
	type plain Layer
	out := plain(defaultLayer())
	if err := decodeStrictJSON(data, &out); err != nil {
		return err
	}
	*l = Layer(out)
	return nil
}

func (l *Layer) UnmarshalYAML(node *yaml.Node) error {
	type plain Layer
	out := plain(defaultLayer())
	if err := checkYAMLKeys(node, "layer", "ref", "transform", "blend_mode", "opacity"); err != nil {
		return err
	}
	if err := node.Decode(&out); err != nil {
		return err
	}
	*l = Layer(out)
	return nil
}

// Template is a declarative stack of layers whose references may be multi-valued.
type Template struct {
	// Aliases maps an alias name to the references it may be bound to.
	Aliases    map[string][]string `json:"aliases" yaml:"aliases"`
	Layers     []Layer             `json:"layers" yaml:"layers"`
	CanvasSize Size                `json:"canvas_size" yaml:"canvas_size"`
}

// AliasNames returns the alias names in lexical order.
func (t Template) AliasNames() []string {
	names := make([]string, 0, len(t.Aliases))
	for name := range t.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports every structural problem with the template at once.
func (t Template) Validate() error {
	verr := &ValidationError{}
	if t.CanvasSize.Width() <= 0 || t.CanvasSize.Height() <= 0 {
		verr.Add(fmt.Sprintf("canvas_size must be positive, got %dx%d", t.CanvasSize.Width(), t.CanvasSize.Height()))
	}
	for _, name := range t.AliasNames() {
		if strings.TrimSpace(name) == "" {
			verr.Add("alias names must not be empty")
		}
		for i, ref := range t.Aliases[name] {
			if strings.TrimSpace(ref) == "" {
				verr.Add(fmt.Sprintf("aliases.%s[%d]: reference is empty", name, i))
			}
		}
	}
	for i, layer := range t.Layers {
		if _, ok := t.Aliases[layer.Ref]; !ok {
			verr.Add(fmt.Sprintf("layers[%d]: ref %q is not a declared alias", i, layer.Ref))
		}
		if math.IsNaN(layer.Opacity) || layer.Opacity < 0 || layer.Opacity > 1 {
			verr.Add(fmt.Sprintf("layers[%d]: opacity must be within [0,1], got %v", i, layer.Opacity))
		}
		if math.IsNaN(layer.Transform.Scale) || math.IsInf(layer.Transform.Scale, 0) || layer.Transform.Scale <= 0 {
			verr.Add(fmt.Sprintf("layers[%d]: scale must be positive, got %v", i, layer.Transform.Scale))
		}
		if math.IsNaN(layer.Transform.Rotate) || math.IsInf(layer.Transform.Rotate, 0) {
			verr.Add(fmt.Sprintf("layers[%d]: rotate must be finite", i))
		}
		if _, err := ParseBlendMode(string(layer.BlendMode)); err != nil {
			verr.Add(fmt.Sprintf("layers[%d]: %v", i, err))
		}
	}
	return verr.OrNil()
}

// DecodeTemplate parses a JSON or YAML template document and validates it.
func DecodeTemplate(data []byte) (Template, error) {
	var tmpl Template
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Template{}, fmt.Errorf("template document is empty")
	}
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&tmpl); err != nil {
			return Template{}, fmt.Errorf("decode json template: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(trimmed))
		dec.KnownFields(true)
		if err := dec.Decode(&tmpl); err != nil {
			return Template{}, fmt.Errorf("decode yaml template: %w", err)
		}
	}
	if err := tmpl.Validate(); err != nil {
		return Template{}, err
	}
	return tmpl, nil
}
