package analytics

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Record is anything conditions can be evaluated against
type Record interface {
	// Field returns the value of a named field and whether it is present
	Field(name string) (interface{}, bool)
}

// maxPatternLength bounds regex conditions supplied by goal definitions
const maxPatternLength = 512

type compiledCondition struct {
	field    string
	operator Operator
	value    interface{}
	pattern  *regexp.Regexp
}

// Matcher evaluates a compiled set of conditions with AND semantics
type Matcher struct {
	conditions []compiledCondition
}

// CompileConditions validates conditions and prepares them for evaluation
func CompileConditions(conditions []Condition) (*Matcher, error) {
	m := &Matcher{conditions: make([]compiledCondition, 0, len(conditions))}

	for i, c := range conditions {
		if c.Field == "" {
			return nil, fmt.Errorf("%w: condition %d: field is required", ErrInvalidCondition, i+1)
		}

		cc := compiledCondition{field: c.Field, operator: c.Operator, value: c.Value}

		switch c.Operator {
		case OperatorEquals, OperatorNotEquals, OperatorContains:
		case OperatorGreater, OperatorLess:
			if _, ok := toFloat64(c.Value); !ok {
				return nil, fmt.Errorf("%w: condition %d: %s needs a numeric value", ErrInvalidCondition, i+1, c.Operator)
			}
		case OperatorIn:
			if _, ok := toSlice(c.Value); !ok {
				return nil, fmt.Errorf("%w: condition %d: in needs a list value", ErrInvalidCondition, i+1)
			}
		case OperatorRegex:
			expr, ok := c.Value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: condition %d: regex needs a string pattern", ErrInvalidCondition, i+1)
			}
			if len(expr) > maxPatternLength {
				return nil, fmt.Errorf("%w: condition %d: pattern too long", ErrInvalidCondition, i+1)
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("%w: condition %d: %v", ErrInvalidCondition, i+1, err)
			}
			cc.pattern = re
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
		}

		m.conditions = append(m.conditions, cc)
	}

	return m, nil
}

// Match reports whether every condition holds for the record
func (m *Matcher) Match(r Record) bool {
	if m == nil {
		return true
	}
	for _, c := range m.conditions {
		if !c.eval(r) {
			return false
		}
	}
	return true
}

func (c compiledCondition) eval(r Record) bool {
	value, ok := r.Field(c.field)
	if !ok || value == nil {
		return false
	}

	switch c.operator {
	case OperatorEquals:
		return compareEquals(value, c.value)
	case OperatorNotEquals:
		return !compareEquals(value, c.value)
	case OperatorContains:
		return strings.Contains(stringify(value), stringify(c.value))
	case OperatorGreater:
		return compareNumeric(value, c.value, ">")
	case OperatorLess:
		return compareNumeric(value, c.value, "<")
	case OperatorIn:
		list, _ := toSlice(c.value)
		for _, item := range list {
			if compareEquals(value, item) {
				return true
			}
		}
		return false
	case OperatorRegex:
		return c.pattern.MatchString(stringify(value))
	default:
		return false
	}
}

// Field implements Record for events
func (e *Event) Field(name string) (interface{}, bool) {
	switch name {
	case "id":
		return e.ID, true
	case "name":
		return e.Name, true
	case "category":
		return e.Category, true
	case "action":
		return e.Action, e.Action != ""
	case "label":
		return e.Label, e.Label != ""
	case "value":
		if e.Value == nil {
			return nil, false
		}
		return *e.Value, true
	case "timestamp":
		return e.Timestamp, true
	case "sessionId", "session_id":
		return e.SessionID, true
	case "userId", "user_id":
		return e.UserID, e.UserID != ""
	}

	if rest, ok := strings.CutPrefix(name, "metadata."); ok {
		return lookupPath(e.Metadata, rest)
	}
	return lookupPath(e.Metadata, name)
}

// Field implements Record for page views
func (p *PageView) Field(name string) (interface{}, bool) {
	switch name {
	case "path":
		return p.Path, true
	case "title":
		return p.Title, true
	case "referrer":
		return p.Referrer, p.Referrer != ""
	case "timestamp":
		return p.Timestamp, true
	}
	return nil, false
}

// Traits adapts a trait map to Record
type Traits map[string]interface{}

// Field implements Record
func (t Traits) Field(name string) (interface{}, bool) {
	return lookupPath(t, name)
}

// lookupPath resolves dot-separated keys through nested maps
func lookupPath(m map[string]interface{}, path string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[path]; ok {
		return v, true
	}

	var current interface{} = m
	for _, part := range strings.Split(path, ".") {
		next, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = next[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func compareEquals(a, b interface{}) bool {
	af, aOk := toFloat64(a)
	bf, bOk := toFloat64(b)
	if aOk && bOk {
		return af == bf
	}
	return stringify(a) == stringify(b)
}

func compareNumeric(a, b interface{}, op string) bool {
	af, aOk := toFloat64(a)
	bf, bOk := toFloat64(b)
	if !aOk || !bOk {
		return false
	}

	switch op {
	case ">":
		return af > bf
	case "<":
		return af < bf
	default:
		return false
	}
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case int16:
		return float64(val), true
	case int8:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint8:
		return float64(val), true
	default:
		return 0, false
	}
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch val := v.(type) {
	case []interface{}:
		return val, true
	case []string:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out, true
	case []float64:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out, true
	case []int:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}
