package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uplinq/uplinq/internal/errors"
	"gorm.io/gorm"
)

// Functions invokes named server-side SQL functions with JSON arguments.
// Bulk operations that must be atomic across many rows (mark-all-read,
// points recalculation) live in the database rather than in client loops.
type Functions struct {
	db *gorm.DB
}

// NewFunctions wraps an open gorm connection
func NewFunctions(db *gorm.DB) *Functions {
	return &Functions{db: db}
}

// Invoke calls the named function with args marshalled to jsonb and
// unmarshals the function's JSON result into result. Pass a nil result
// for void functions.
func (f *Functions) Invoke(ctx context.Context, name string, args any, result any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return errors.Decode("failed to encode function arguments", err)
	}

	var raw []byte
	query := fmt.Sprintf("SELECT %s(?::jsonb)", name)
	err = f.db.WithContext(ctx).Raw(query, string(payload)).Scan(&raw).Error
	if err != nil {
		return errors.Transient("function call failed: "+name, err)
	}

	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return errors.Decode("failed to decode function result: "+name, err)
	}
	return nil
}
