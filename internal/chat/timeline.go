package chat

import (
	"time"

	"github.com/spec-kit/marketplace-chat/internal/domain"
)

// Status tracks a visible entry through its two-phase lifecycle: local
// ({sending, failed}) then persisted ({sent, delivered, read}).
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

var statusRank = map[Status]int{
	StatusSending:   0,
	StatusFailed:    0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Entry is one row of the visible list. Optimistic entries carry only a
// temp id; once persisted they are dual-keyed by temp id and server id.
type Entry struct {
	TempID     string
	MessageID  string
	ClientKey  string
	SenderID   string
	SenderRole domain.ParticipantRole
	Content    string
	Attachment *domain.AttachmentRef
	Status     Status
	CreatedAt  time.Time
}

// Inbound is a server-confirmed message arriving from the append success
// path, from list(), or from the realtime channel.
type Inbound struct {
	MessageID  string
	ClientKey  string
	SenderID   string
	SenderRole domain.ParticipantRole
	Content    string
	Attachment *domain.AttachmentRef
	IsRead     bool
	CreatedAt  time.Time
}

// InboundFromMessage projects a persisted message onto the merge input.
func InboundFromMessage(msg *domain.Message) Inbound {
	in := Inbound{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		SenderRole: msg.SenderRole,
		Content:    msg.Content,
		Attachment: msg.Attachment,
		IsRead:     msg.IsRead,
		CreatedAt:  msg.CreatedAt,
	}
	if msg.ClientKey != nil {
		in.ClientKey = *msg.ClientKey
	}
	return in
}

// Timeline is the reconciliation engine: the single writer of a client's
// visible list. Apply is commutative and idempotent under duplicate or
// re-ordered delivery. Entries keep call order; persisted timestamps never
// retroactively reorder what is already rendered.
//
// Timeline is not safe for concurrent use; the owning session serializes
// all access.
type Timeline struct {
	entries []*Entry
	byTemp  map[string]*Entry
	byKey   map[string]*Entry
	byID    map[string]*Entry
}

// NewTimeline creates an empty visible list.
func NewTimeline() *Timeline {
	return &Timeline{
		byTemp: make(map[string]*Entry),
		byKey:  make(map[string]*Entry),
		byID:   make(map[string]*Entry),
	}
}

// Echo appends a fresh optimistic entry at the tail. Entries always render
// in call order at the time of the call.
func (t *Timeline) Echo(entry *Entry) {
	t.entries = append(t.entries, entry)
	if entry.TempID != "" {
		t.byTemp[entry.TempID] = entry
	}
	if entry.ClientKey != "" {
		t.byKey[entry.ClientKey] = entry
	}
	if entry.MessageID != "" {
		t.byID[entry.MessageID] = entry
	}
}

// Apply merges one server-confirmed message into the visible list:
// a pending entry with the same client key resolves in place to delivered;
// a known server id upgrades status at most; anything else appends at the
// tail, never above already-visible optimistic entries.
func (t *Timeline) Apply(in Inbound) {
	if in.ClientKey != "" {
		if entry, ok := t.byKey[in.ClientKey]; ok {
			t.resolve(entry, in)
			return
		}
	}
	if entry, ok := t.byID[in.MessageID]; ok {
		upgrade(entry, deliveredStatus(in))
		return
	}

	entry := &Entry{
		MessageID:  in.MessageID,
		ClientKey:  in.ClientKey,
		SenderID:   in.SenderID,
		SenderRole: in.SenderRole,
		Content:    in.Content,
		Attachment: in.Attachment,
		Status:     deliveredStatus(in),
		CreatedAt:  in.CreatedAt,
	}
	t.entries = append(t.entries, entry)
	t.byID[entry.MessageID] = entry
	if entry.ClientKey != "" {
		t.byKey[entry.ClientKey] = entry
	}
}

// MarkSent records the append success path for a pending entry: the entry
// becomes dual-keyed under its server id and moves to sent, awaiting the
// delivered upgrade from the realtime merge.
func (t *Timeline) MarkSent(tempID, messageID string, createdAt time.Time) bool {
	entry, ok := t.byTemp[tempID]
	if !ok {
		return false
	}
	if entry.MessageID == "" {
		entry.MessageID = messageID
		entry.CreatedAt = createdAt
		t.byID[messageID] = entry
	}
	upgrade(entry, StatusSent)
	return true
}

// MarkFailed moves a still-pending entry to failed, retaining its content
// for retry. An entry the realtime merge already resolved is left alone.
func (t *Timeline) MarkFailed(tempID string) bool {
	entry, ok := t.byTemp[tempID]
	if !ok || entry.Status != StatusSending {
		return false
	}
	entry.Status = StatusFailed
	return true
}

// TakeFailed removes a failed entry from the visible list and returns it so
// the pipeline can re-send its content under a fresh temp id.
func (t *Timeline) TakeFailed(tempID string) (Entry, bool) {
	entry, ok := t.byTemp[tempID]
	if !ok || entry.Status != StatusFailed {
		return Entry{}, false
	}
	delete(t.byTemp, tempID)
	if entry.ClientKey != "" {
		delete(t.byKey, entry.ClientKey)
	}
	if entry.MessageID != "" {
		delete(t.byID, entry.MessageID)
	}
	for i, e := range t.entries {
		if e == entry {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	return *entry, true
}

// Entries returns a snapshot of the visible list in render order.
func (t *Timeline) Entries() []Entry {
	snapshot := make([]Entry, len(t.entries))
	for i, entry := range t.entries {
		snapshot[i] = *entry
	}
	return snapshot
}

// Len reports the number of visible entries.
func (t *Timeline) Len() int {
	return len(t.entries)
}

// resolve replaces a pending optimistic entry in place with its persisted
// counterpart. The entry keeps its slot; only identity and status change.
func (t *Timeline) resolve(entry *Entry, in Inbound) {
	if entry.MessageID == "" {
		entry.MessageID = in.MessageID
		entry.CreatedAt = in.CreatedAt
		t.byID[in.MessageID] = entry
	}
	upgrade(entry, deliveredStatus(in))
}

// upgrade moves an entry's status forward only; duplicate or stale inputs
// can never regress a more advanced state.
func upgrade(entry *Entry, next Status) {
	if statusRank[next] > statusRank[entry.Status] {
		entry.Status = next
	}
}

func deliveredStatus(in Inbound) Status {
	if in.IsRead {
		return StatusRead
	}
	return StatusDelivered
}
