package preprocessor

import (
	"strings"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/operator_scanner"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/treewalk"
)

const (
	GuardName = "preprocessor"

	// Extended JSON wrapper key for an ObjectID's textual form.
	extendedOIDKey = "$oid"
)

// Preprocessor rewrites likely-identifier string fields into native ObjectID
// values so filters built from transported strings match documents stored
// with native identifiers. It performs no operator-safety filtering; callers
// must run the operator scanner separately.
type Preprocessor struct {
	logger *logrus.Logger
}

func NewPreprocessor(logger *logrus.Logger) *Preprocessor {
	return &Preprocessor{logger: logger}
}

func (p *Preprocessor) Name() string {
	return GuardName
}

// PreprocessQuery returns a new filter with every convertible identifier leaf
// rewritten to primitive.ObjectID. Every input key is preserved; the input is
// never mutated. nil passes through unchanged.
func (p *Preprocessor) PreprocessQuery(query bson.M) bson.M {
	if query == nil {
		return nil
	}
	return p.processMap(query)
}

// isIdentifierKey is a best-effort heuristic, not a guarantee: field naming
// conventions can both under- and over-select identifier fields. It matches
// the reserved _id field, Id/_id suffixes, a bare "id" in any casing, and
// ref-prefixed names.
func isIdentifierKey(key string) bool {
	return key == "_id" ||
		strings.HasSuffix(key, "Id") ||
		strings.HasSuffix(key, "_id") ||
		strings.EqualFold(key, "id") ||
		strings.HasPrefix(key, "ref")
}

func (p *Preprocessor) processMap(m map[string]interface{}) bson.M {
	out := make(bson.M, len(m))
	for key, value := range m {
		switch {
		case operator_scanner.IsBlocked(key):
			// Never coerce inside denylisted constructs; the scanner will
			// reject them.
			out[key] = value
		case isIdentifierKey(key):
			out[key] = p.convertIdentifierValue(value)
		default:
			out[key] = p.processValue(value)
		}
	}
	return out
}

func (p *Preprocessor) processValue(value interface{}) interface{} {
	if m, ok := treewalk.AsMap(value); ok {
		return p.processMap(m)
	}
	if seq, ok := treewalk.AsSlice(value); ok {
		out := make(bson.A, len(seq))
		for i, item := range seq {
			out[i] = p.processValue(item)
		}
		return out
	}
	return value
}

// convertIdentifierValue handles the value under an identifier-bearing key:
// strings and $oid wrappers become ObjectIDs, arrays convert element-wise,
// operator operands ($eq, $in, ...) convert through the same logic, and
// anything else recurses structurally.
func (p *Preprocessor) convertIdentifierValue(value interface{}) interface{} {
	if converted, ok := convertScalar(value); ok {
		return converted
	}
	if m, ok := treewalk.AsMap(value); ok {
		out := make(bson.M, len(m))
		for key, opVal := range m {
			switch {
			case operator_scanner.IsBlocked(key):
				out[key] = opVal
			case strings.HasPrefix(key, "$"):
				out[key] = p.convertIdentifierValue(opVal)
			default:
				out[key] = p.processValue(opVal)
			}
		}
		return out
	}
	if seq, ok := treewalk.AsSlice(value); ok {
		out := make(bson.A, len(seq))
		for i, item := range seq {
			if converted, ok := convertScalar(item); ok {
				out[i] = converted
			} else {
				out[i] = item
			}
		}
		return out
	}
	return value
}

// convertScalar converts a syntactically valid identifier string or a
// single-key $oid wrapper to an ObjectID. The boolean reports whether a
// conversion happened.
func convertScalar(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case string:
		if oid, err := primitive.ObjectIDFromHex(v); err == nil {
			return oid, true
		}
	case primitive.ObjectID:
		return v, true
	default:
		if m, ok := treewalk.AsMap(value); ok && len(m) == 1 {
			if raw, present := m[extendedOIDKey]; present {
				if s, isString := raw.(string); isString {
					if oid, err := primitive.ObjectIDFromHex(s); err == nil {
						return oid, true
					}
				}
			}
		}
	}
	return nil, false
}
