package session

import (
	"sync"

	"github.com/Intelligent-Internet/ii-agent/pkg/protocol"
)

// DefaultReplayCapacity bounds the per-session replay buffer.
const DefaultReplayCapacity = 256

// replayBuffer retains the most recent sequenced envelopes of a session's
// current query so a reconnecting transport can catch up. It is bounded and
// drops the oldest entry when full; a resume request that reaches past the
// retained window fails with ErrResumeIncomplete instead of silently
// skipping sequence numbers.
type replayBuffer struct {
	mu       sync.Mutex
	capacity int
	queryID  string
	entries  []protocol.Envelope
}

func newReplayBuffer(capacity int) *replayBuffer {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	return &replayBuffer{capacity: capacity}
}

// record buffers a sequenced envelope. Sequence numbers restart per query,
// so entries from a previous query are discarded when a new one begins.
func (b *replayBuffer) record(env protocol.Envelope) {
	if env.Sequence == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if env.QueryID != b.queryID {
		b.queryID = env.QueryID
		b.entries = b.entries[:0]
	}

	if len(b.entries) == b.capacity {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
	}
	b.entries = append(b.entries, env)
}

// replayFrom returns the buffered envelopes with sequence greater than
// lastSeq, in order. It returns ErrResumeIncomplete when the window no
// longer covers lastSeq+1.
func (b *replayBuffer) replayFrom(lastSeq int64) ([]protocol.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		if lastSeq > 0 {
			return nil, ErrResumeIncomplete
		}
		return nil, nil
	}

	oldest := b.entries[0].Sequence
	newest := b.entries[len(b.entries)-1].Sequence

	if lastSeq >= newest {
		return nil, nil
	}
	if lastSeq+1 < oldest {
		return nil, ErrResumeIncomplete
	}

	var out []protocol.Envelope
	for _, env := range b.entries {
		if env.Sequence > lastSeq {
			out = append(out, env)
		}
	}
	return out, nil
}

func (b *replayBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
