package voice

import "sync"

// PlaybackState is the process-visible playback read model. MessageID is
// non-empty exactly when Playing is true.
type PlaybackState struct {
	Playing   bool   `json:"is_playing"`
	MessageID string `json:"active_message_id,omitempty"`
}

func idleState() PlaybackState { return PlaybackState{} }

func playingState(messageID string) PlaybackState {
	return PlaybackState{Playing: true, MessageID: messageID}
}

// PlaybackStore holds the current PlaybackState. Only the Player writes it;
// everything else reads or subscribes.
type PlaybackStore struct {
	mu     sync.RWMutex
	state  PlaybackState
	nextID int
	subs   map[int]chan PlaybackState
}

func NewPlaybackStore() *PlaybackStore {
	return &PlaybackStore{subs: make(map[int]chan PlaybackState)}
}

func (s *PlaybackStore) Current() PlaybackState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe returns a channel of state changes and a func to release it.
// A slow subscriber only loses intermediate values; the latest state always
// lands in its buffer.
func (s *PlaybackStore) Subscribe() (<-chan PlaybackState, func()) {
	ch := make(chan PlaybackState, 16)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// set publishes next and reports whether it differed from the previous state.
func (s *PlaybackStore) set(next PlaybackState) bool {
	if !next.Playing {
		next.MessageID = ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == next {
		return false
	}
	s.state = next
	for _, ch := range s.subs {
		select {
		case ch <- next:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- next:
			default:
			}
		}
	}
	return true
}
