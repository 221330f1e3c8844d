// Package snapshot derives the latest-value snapshot from parsed records and
// holds the most recently published one for concurrent readers.
package snapshot

import (
	"errors"

	"github.com/jgoulah/airquality/pkg/models"
)

// ErrEmptyDataset is returned when there are no records to reduce
var ErrEmptyDataset = errors.New("dataset has no records")

// Reduce builds a snapshot from records in file order (oldest first).
//
// The snapshot Date is the Date of records[0]. Every field is then resolved
// independently, newest record first, to its most recent non-empty value; a
// field nobody reported stays empty. records is not modified.
func Reduce(records []models.Record, fields []models.Field) (models.Snapshot, error) {
	if len(records) == 0 {
		return models.Snapshot{}, ErrEmptyDataset
	}

	values := make(map[models.Field]string, len(fields))
	for _, f := range fields {
		for i := len(records) - 1; i >= 0; i-- {
			if v := records[i].Value(f); v != "" {
				values[f] = v
				break
			}
		}
	}

	return models.NewSnapshot(records[0].Date, fields, values), nil
}
