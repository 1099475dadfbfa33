package result_capper

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/types"
)

const (
	GuardName = "result_capper"

	// DefaultMaxBytes is the serialized size budget for a result set.
	DefaultMaxBytes = 1 << 20
)

type Config struct {
	MaxBytes int `mapstructure:"max_bytes"`
}

type Capper struct {
	logger *logrus.Logger
	cfg    Config
}

func NewCapper(logger *logrus.Logger, cfg Config) *Capper {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Capper{logger: logger, cfg: cfg}
}

func (c *Capper) Name() string {
	return GuardName
}

// CapResultSize truncates items to the byte budget, measuring encoded byte
// length of the extended-JSON form so multi-byte characters count correctly.
// Items are removed from the end; at least one item is always kept even when
// it alone exceeds the budget.
func (c *Capper) CapResultSize(items []bson.M) types.CapResult {
	sizes := make([]int, len(items))
	total := 2 // enclosing brackets
	for i, item := range items {
		sizes[i] = encodedSize(item)
		total += sizes[i]
		if i > 0 {
			total++ // separating comma
		}
	}
	if total <= c.cfg.MaxBytes {
		return types.CapResult{Result: items, Truncated: false}
	}

	kept := len(items)
	for kept > 1 && total > c.cfg.MaxBytes {
		kept--
		total -= sizes[kept] + 1
	}

	c.logger.WithFields(logrus.Fields{
		"total_items": len(items),
		"kept_items":  kept,
		"max_bytes":   c.cfg.MaxBytes,
	}).Warn("result set truncated")

	return types.CapResult{
		Result:    items[:kept],
		Truncated: true,
		Warning:   fmt.Sprintf("result truncated to %d of %d documents to stay under the %d byte limit", kept, len(items), c.cfg.MaxBytes),
	}
}

func encodedSize(item bson.M) int {
	data, err := bson.MarshalExtJSON(item, false, false)
	if err != nil {
		// Unencodable documents still occupy space downstream; fall back to
		// a rough fmt rendering for the estimate.
		return len(fmt.Sprintf("%v", item))
	}
	return len(data)
}
