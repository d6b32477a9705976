package db

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FilterBuilder helps build MongoDB filters fluently. Conversion failures
// (malformed ObjectID hex) are recorded and exposed via Err; callers must
// check it before using the built filter, since a skipped condition would
// otherwise widen the match.
type FilterBuilder struct {
	filter bson.M
	err    error
}

// NewFilter creates a new FilterBuilder
func NewFilter() *FilterBuilder {
	return &FilterBuilder{filter: bson.M{}}
}

// Eq adds an equality condition
func (f *FilterBuilder) Eq(field string, value interface{}) *FilterBuilder {
	f.filter[field] = value
	return f
}

// Ne adds a not-equal condition
func (f *FilterBuilder) Ne(field string, value interface{}) *FilterBuilder {
	f.filter[field] = bson.M{"$ne": value}
	return f
}

// In adds an $in condition (value in array)
func (f *FilterBuilder) In(field string, values interface{}) *FilterBuilder {
	f.filter[field] = bson.M{"$in": values}
	return f
}

// ExactSet matches an array field containing exactly the given values,
// compared as an unordered set. $all alone would also match supersets, so
// the $size guard is required.
func (f *FilterBuilder) ExactSet(field string, values []string) *FilterBuilder {
	f.filter[field] = bson.M{"$all": values, "$size": len(values)}
	return f
}

// ObjectID adds an ObjectID filter. A malformed hex id is recorded as an
// error instead of silently dropping the condition.
func (f *FilterBuilder) ObjectID(field string, id string) *FilterBuilder {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		f.fail(fmt.Errorf("field %s: %w", field, err))
		return f
	}
	f.filter[field] = objectID
	return f
}

// ObjectIDs adds an $in filter over hex ids. Malformed entries are recorded
// as an error; the valid ones still land in the filter.
func (f *FilterBuilder) ObjectIDs(field string, ids []string) *FilterBuilder {
	objectIDs := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		objectID, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			f.fail(fmt.Errorf("field %s: %w", field, err))
			continue
		}
		objectIDs = append(objectIDs, objectID)
	}
	f.filter[field] = bson.M{"$in": objectIDs}
	return f
}

func (f *FilterBuilder) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

// Err returns the first conversion failure recorded while building.
func (f *FilterBuilder) Err() error {
	return f.err
}

// Or combines multiple filters with OR
func (f *FilterBuilder) Or(filters ...bson.M) *FilterBuilder {
	if len(filters) > 0 {
		f.filter["$or"] = filters
	}
	return f
}

// Build returns the final bson.M filter
func (f *FilterBuilder) Build() bson.M {
	return f.filter
}

// Empty returns an empty filter (matches all documents)
func Empty() bson.M {
	return bson.M{}
}
