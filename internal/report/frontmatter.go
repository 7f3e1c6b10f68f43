package report

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter represents YAML frontmatter that keeps insertion order.
type Frontmatter struct {
	fields map[string]interface{}
	order  []string
}

// NewFrontmatter creates a new empty frontmatter.
func NewFrontmatter() *Frontmatter {
	return &Frontmatter{
		fields: make(map[string]interface{}),
		order:  make([]string, 0),
	}
}

// Set adds or updates a field in the frontmatter
func (f *Frontmatter) Set(key string, value interface{}) {
	if _, exists := f.fields[key]; !exists {
		f.order = append(f.order, key)
	}
	f.fields[key] = value
}

// Get retrieves a field value
func (f *Frontmatter) Get(key string) (interface{}, bool) {
	v, ok := f.fields[key]
	return v, ok
}

// Render produces the YAML frontmatter string with delimiters.
func (f *Frontmatter) Render() (string, error) {
	if len(f.fields) == 0 {
		return "", nil
	}

	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range f.order {
		var value yaml.Node
		if err := value.Encode(f.fields[key]); err != nil {
			return "", fmt.Errorf("encoding frontmatter field %s: %w", key, err)
		}
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, &value)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encoding frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}

	return "---\n" + buf.String() + "---\n\n", nil
}

// SplitFrontmatter separates a document into its decoded frontmatter and
// body. ok is false when the document has no frontmatter block.
func SplitFrontmatter(content string) (fields map[string]interface{}, body string, ok bool, err error) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, content, false, nil
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return nil, content, false, nil
	}
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &fields); err != nil {
		return nil, content, false, fmt.Errorf("decoding frontmatter: %w", err)
	}
	body = strings.TrimPrefix(rest[end+len("\n---\n"):], "\n")
	return fields, body, true, nil
}
