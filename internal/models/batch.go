package models

import "time"

// BatchReason records why a batch was emitted.
type BatchReason string

const (
	BatchReasonWindowExpired BatchReason = "window-expired"
	BatchReasonBurstFlush    BatchReason = "burst-flush"
	BatchReasonManualFlush   BatchReason = "manual-flush"
)

// EventBatch is an ordered group of admitted events delivered to subscribers.
type EventBatch struct {
	ID        string      `json:"id"`
	Seq       uint64      `json:"seq"`
	Events    []Event     `json:"events"`
	CreatedAt time.Time   `json:"createdAt"`
	Reason    BatchReason `json:"reason"`
}

// SessionIDs returns the distinct session ids in the batch, in first-seen order.
func (b EventBatch) SessionIDs() []string {
	seen := make(map[string]struct{}, len(b.Events))
	var ids []string
	for i := range b.Events {
		id := b.Events[i].SessionID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
