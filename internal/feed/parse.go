package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gardenbot/internal/stock"
)

var (
	errNotSuccess  = errors.New("status is not success")
	errMissingData = errors.New("missing data payload")
)

type wireMessage struct {
	Status string                  `json:"status"`
	Data   map[string]wireCategory `json:"data"`
}

type wireCategory struct {
	Items []wireItem `json:"items"`
}

type wireItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Emoji    string `json:"emoji"`
}

// wireCategories maps feed payload keys to shop categories.
// Unknown keys in a payload are ignored rather than rejected.
var wireCategories = map[string]stock.Category{
	"seed":              stock.CategorySeeds,
	"gear":              stock.CategoryGear,
	"egg":               stock.CategoryEggs,
	"travelingmerchant": stock.CategoryMerchant,
	"cosmetics":         stock.CategoryCosmetic,
	"event":             stock.CategoryEvent,
}

// ParseSnapshot decodes one feed frame into a complete snapshot.
//
// Frames with status != "success" or without a data object are rejected; the
// caller discards them and keeps the previous snapshot. Item order within each
// category is preserved as sent.
func ParseSnapshot(payload []byte, takenAt time.Time) (*stock.Snapshot, error) {
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if msg.Status != "success" {
		return nil, fmt.Errorf("%w: %q", errNotSuccess, msg.Status)
	}
	if msg.Data == nil {
		return nil, errMissingData
	}

	snap := &stock.Snapshot{
		TakenAt:    takenAt,
		Categories: make(map[stock.Category][]stock.Item, len(msg.Data)),
	}
	for key, wc := range msg.Data {
		cat, ok := wireCategories[key]
		if !ok {
			continue
		}
		items := make([]stock.Item, 0, len(wc.Items))
		for _, wi := range wc.Items {
			if wi.Name == "" {
				continue
			}
			q := wi.Quantity
			if q < 0 {
				q = 0
			}
			items = append(items, stock.Item{Name: wi.Name, Quantity: q, Emoji: wi.Emoji})
		}
		snap.Categories[cat] = items
	}
	return snap, nil
}
