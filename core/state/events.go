package state

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"cipherlend/core/types"
)

// LoggedEvent is an event as persisted in the sequence-numbered event log.
type LoggedEvent struct {
	Sequence uint64
	Event    *types.Event
}

type storedAttribute struct {
	Key   string
	Value string
}

type storedEvent struct {
	Type       string
	Attributes []storedAttribute
}

func encodeEvent(evt *types.Event) ([]byte, error) {
	stored := storedEvent{Type: evt.Type}
	keys := make([]string, 0, len(evt.Attributes))
	for k := range evt.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stored.Attributes = append(stored.Attributes, storedAttribute{Key: k, Value: evt.Attributes[k]})
	}
	return rlp.EncodeToBytes(&stored)
}

func decodeEvent(data []byte) (*types.Event, error) {
	var stored storedEvent
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	evt := &types.Event{Type: stored.Type, Attributes: make(map[string]string, len(stored.Attributes))}
	for _, attr := range stored.Attributes {
		evt.Attributes[attr.Key] = attr.Value
	}
	return evt, nil
}

// LastEventSequence returns the sequence number of the newest logged event.
func (m *Manager) LastEventSequence() (uint64, error) {
	data, ok, err := m.rawGet(logSeqKey)
	if err != nil {
		return 0, fmt.Errorf("state: load event sequence: %w", err)
	}
	if !ok {
		return 0, nil
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("state: corrupt event sequence")
	}
	return binary.BigEndian.Uint64(data), nil
}

// AppendEvents writes evts to the log with consecutive sequence numbers
// starting after the current head. Inside a transaction the entries only
// become visible to EventsSince once committed.
func (m *Manager) AppendEvents(evts []*types.Event) error {
	if len(evts) == 0 {
		return nil
	}
	seq, err := m.LastEventSequence()
	if err != nil {
		return err
	}
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		encoded, err := encodeEvent(evt)
		if err != nil {
			return fmt.Errorf("state: encode event: %w", err)
		}
		seq++
		if err := m.rawPut(logKey(seq), encoded); err != nil {
			return err
		}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return m.rawPut(logSeqKey, buf[:])
}

// EventsSince returns up to limit committed events with a sequence strictly
// greater than after, oldest first.
func (m *Manager) EventsSince(after uint64, limit int) ([]LoggedEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	var (
		out     []LoggedEvent
		iterErr error
	)
	if after == ^uint64(0) {
		return nil, nil
	}
	err := m.db.Iterate(logPrefix, logKey(after+1), func(key, value []byte) bool {
		if len(key) != len(logPrefix)+8 {
			return true
		}
		seq := binary.BigEndian.Uint64(key[len(logPrefix):])
		evt, err := decodeEvent(value)
		if err != nil {
			iterErr = fmt.Errorf("state: decode event %d: %w", seq, err)
			return false
		}
		out = append(out, LoggedEvent{Sequence: seq, Event: evt})
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return out, nil
}
