package domain

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Vote is one participant's submission for a round.
type Vote struct {
	ParticipantID string    `json:"participantId"`
	Card          Card      `json:"card"`
	CastAt        time.Time `json:"castAt"`
}

// Round is one estimation cycle within a room. Once revealed it is immutable;
// revealed rounds are appended to the room's history.
type Round struct {
	ID         string          `json:"id"`
	Seq        int             `json:"seq"`
	StoryTitle string          `json:"storyTitle,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	RevealedAt *time.Time      `json:"revealedAt,omitempty"`
	Votes      map[string]Vote `json:"votes"`
	Average    float64         `json:"average"`
	Median     float64         `json:"median"`
	Consensus  bool            `json:"consensus"`
}

func (r *Round) clone() *Round {
	cp := *r
	cp.Votes = make(map[string]Vote, len(r.Votes))
	for id, v := range r.Votes {
		cp.Votes[id] = v
	}
	if r.RevealedAt != nil {
		t := *r.RevealedAt
		cp.RevealedAt = &t
	}
	return &cp
}

// roomState holds all round state for one room. Every mutation goes through
// the state's own mutex, so start/vote/reveal for the same room serialize
// while different rooms proceed fully concurrently.
type roomState struct {
	mu      sync.Mutex
	open    *Round
	lastSeq int
	history []*Round
}

// Service is the voting round state machine, keyed by room identifier.
type Service struct {
	mu    sync.RWMutex
	rooms map[string]*roomState

	started  atomic.Uint64
	votes    atomic.Uint64
	revealed atomic.Uint64
}

func NewService() *Service {
	return &Service{rooms: make(map[string]*roomState)}
}

func (s *Service) state(roomID string) *roomState {
	s.mu.RLock()
	st, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.rooms[roomID]; !ok {
		st = &roomState{}
		s.rooms[roomID] = st
	}
	return st
}

// StartRound opens a new round. At most one round per room may be open;
// concurrent starts yield exactly one winner, the rest get ErrRoundOpen.
func (s *Service) StartRound(roomID, storyTitle string) (*Round, error) {
	st := s.state(roomID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.open != nil {
		return nil, ErrRoundOpen
	}

	st.lastSeq++
	st.open = &Round{
		ID:         uuid.NewString(),
		Seq:        st.lastSeq,
		StoryTitle: storyTitle,
		StartedAt:  time.Now(),
		Votes:      make(map[string]Vote),
	}
	s.started.Add(1)
	return st.open.clone(), nil
}

// CastVote records a participant's card for the open round. A resubmission
// from the same participant overwrites the prior value.
func (s *Service) CastVote(roomID, participantID string, card Card) (*Round, error) {
	if !ValidCard(string(card)) {
		return nil, ErrInvalidCard
	}

	st := s.state(roomID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.open == nil {
		return nil, ErrNoRoundOpen
	}

	st.open.Votes[participantID] = Vote{
		ParticipantID: participantID,
		Card:          card,
		CastAt:        time.Now(),
	}
	s.votes.Add(1)
	return st.open.clone(), nil
}

// Reveal closes the open round, computes aggregates over the numeric votes,
// and appends the round to the room's history. Sentinel votes are retained in
// the per-vote records but excluded from average, median and consensus.
func (s *Service) Reveal(roomID string) (*Round, error) {
	st := s.state(roomID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.open == nil {
		return nil, ErrNoRoundOpen
	}

	round := st.open
	now := time.Now()
	round.RevealedAt = &now
	round.Average, round.Median, round.Consensus = aggregate(round.Votes)

	st.history = append(st.history, round)
	st.open = nil
	s.revealed.Add(1)
	return round.clone(), nil
}

// History returns the room's revealed rounds, oldest first.
func (s *Service) History(roomID string) []*Round {
	st := s.state(roomID)
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]*Round, len(st.history))
	for i, r := range st.history {
		out[i] = r.clone()
	}
	return out
}

// OpenRound returns a snapshot of the room's open round, if any.
func (s *Service) OpenRound(roomID string) (*Round, bool) {
	st := s.state(roomID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.open == nil {
		return nil, false
	}
	return st.open.clone(), true
}

// Stats returns process-wide counts of started rounds, recorded votes and
// reveals.
func (s *Service) Stats() (started, votes, revealed uint64) {
	return s.started.Load(), s.votes.Load(), s.revealed.Load()
}

// Forget drops all round state for a room. Called when a room's last
// connection goes away and the room is evicted from the registry.
func (s *Service) Forget(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

func aggregate(votes map[string]Vote) (avg, median float64, consensus bool) {
	nums := make([]float64, 0, len(votes))
	for _, v := range votes {
		if n, ok := v.Card.Numeric(); ok {
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		return 0, 0, false
	}

	sort.Float64s(nums)

	var sum float64
	for _, n := range nums {
		sum += n
	}
	avg = sum / float64(len(nums))

	mid := len(nums) / 2
	if len(nums)%2 == 0 {
		median = (nums[mid-1] + nums[mid]) / 2
	} else {
		median = nums[mid]
	}

	consensus = nums[0] == nums[len(nums)-1]
	return avg, median, consensus
}
