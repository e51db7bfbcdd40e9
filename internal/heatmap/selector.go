package heatmap

import "strings"

// Element is the part of a DOM node needed to build a selector
type Element struct {
	Tag     string
	ID      string
	Classes []string
	Parent  *Element
}

// Selector builds a CSS-like path from el up to (not including) body.
// The walk stops at the first element with an id, which then anchors the path.
func Selector(el *Element) string {
	var parts []string

	for node := el; node != nil; node = node.Parent {
		tag := strings.ToLower(node.Tag)
		if tag == "body" || tag == "html" {
			break
		}
		if node.ID != "" {
			parts = append(parts, "#"+node.ID)
			break
		}

		var b strings.Builder
		b.WriteString(tag)
		for _, class := range node.Classes {
			if class = strings.TrimSpace(class); class != "" {
				b.WriteByte('.')
				b.WriteString(class)
			}
		}
		parts = append(parts, b.String())
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}
