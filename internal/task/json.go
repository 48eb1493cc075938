package task

import (
	"encoding/json"
	"fmt"
	"io"
)

// wireItem is the primary format object.
type wireItem struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	Importance    string `json:"importance"`
	Deadline      *int64 `json:"deadline,omitempty"`
	Done          bool   `json:"done"`
	CreatedAt     int64  `json:"created_at"`
	ChangedAt     *int64 `json:"changed_at"`
	Color         string `json:"color"`
	LastUpdatedBy string `json:"last_updated_by"`
}

// MarshalJSON encodes the record in the primary format. A missing
// changed_at is written as the current time.
func (it Item) MarshalJSON() ([]byte, error) {
	changed := it.ChangedAt
	if changed == nil {
		now := Now()
		changed = &now
	}
	color := it.Color
	if color == "" {
		color = DefaultColor
	}
	return json.Marshal(wireItem{
		ID:            it.ID,
		Text:          it.Text,
		Importance:    it.Importance.WireName(),
		Deadline:      unixPtr(it.Deadline),
		Done:          it.Done,
		CreatedAt:     it.CreatedAt.Unix(),
		ChangedAt:     unixPtr(changed),
		Color:         color,
		LastUpdatedBy: it.LastUpdatedBy,
	})
}

// UnmarshalJSON decodes a primary format object.
func (it *Item) UnmarshalJSON(data []byte) error {
	var w wireItem
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*it = Item{
		ID:            w.ID,
		Text:          w.Text,
		Importance:    ParseImportance(w.Importance),
		Deadline:      timePtr(w.Deadline),
		Done:          w.Done,
		CreatedAt:     *timePtr(&w.CreatedAt),
		ChangedAt:     timePtr(w.ChangedAt),
		Color:         w.Color,
		LastUpdatedBy: w.LastUpdatedBy,
	}
	if it.Color == "" {
		it.Color = DefaultColor
	}
	return nil
}

// EncodeJSON writes items as a primary format array.
func EncodeJSON(w io.Writer, items []Item) error {
	if items == nil {
		items = []Item{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}
	return nil
}

// DecodeJSON reads a primary format array. Records without an id get one.
func DecodeJSON(r io.Reader) ([]Item, error) {
	var items []Item
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}
	for i := range items {
		items[i].Normalize()
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}
