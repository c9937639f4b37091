package fees

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/pkg/errors"
)

// Metadata is the free-form key-value bag attached to a FeeDue, stored as
// JSONB. Waiver audit fields live here.
type Metadata map[string]interface{}

// Merge returns a copy with other's keys added or overwritten and every
// remaining key preserved. The receiver is not modified.
func (m Metadata) Merge(other Metadata) Metadata {
	merged := make(Metadata, len(m)+len(other))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// Value serializes the metadata for storage.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan reads the stored JSON back into the map.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("metadata: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, m)
}
