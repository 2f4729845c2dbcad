package service

import (
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/upskill-api/internal/dto"
	"github.com/noah-isme/upskill-api/internal/models"
)

// standing is one ranked user with the inputs of the ordering.
type standing struct {
	user          models.User
	points        int64
	firstApproved *time.Time
}

// rankedBefore orders by points desc, then the earliest approved submission (users without one last), then user id.
func rankedBefore(a, b *standing) bool {
	if a.points != b.points {
		return a.points > b.points
	}

	switch {
	case a.firstApproved != nil && b.firstApproved != nil:
		if !a.firstApproved.Equal(*b.firstApproved) {
			return a.firstApproved.Before(*b.firstApproved)
		}
	case a.firstApproved != nil:
		return true
	case b.firstApproved != nil:
		return false
	}

	return a.user.ID < b.user.ID
}

func sortStandings(rows []*standing) {
	sort.Slice(rows, func(i, j int) bool {
		return rankedBefore(rows[i], rows[j])
	})
}

// entriesFor assigns ranks 1..n to the rows of scope, preserving the given order.
func entriesFor(rows []*standing, scope Scope) []dto.LeaderboardEntry {
	entries := make([]dto.LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		if !scope.Includes(row.user) {
			continue
		}
		entries = append(entries, dto.LeaderboardEntry{
			UserID:      row.user.ID,
			DisplayName: row.user.DisplayName,
			TeamID:      row.user.TeamID,
			Rank:        len(entries) + 1,
			Points:      row.points,
		})
	}

	return entries
}

// RankChange reports a user's move within one scope. A zero Previous means the user was not ranked before.
type RankChange struct {
	UserID   string
	Scope    Scope
	Previous int
	Current  int
}

// Standings is the in-memory incremental leaderboard. It mirrors what a from-scratch ranking
// over the same ledger would produce and is rebuilt periodically to absorb directory changes.
type Standings struct {
	mu      sync.RWMutex
	order   []*standing
	byID    map[string]*standing
	version uint64
	pending int

	subMu       sync.Mutex
	subscribers map[chan struct{}]struct{}
}

// NewStandings returns empty standings.
func NewStandings() *Standings {
	return &Standings{
		byID:        make(map[string]*standing),
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// Version increases on every applied delta and every finished write.
func (s *Standings) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// begin registers a ledger write that will be applied later. Until the returned func runs,
// resetIf refuses rows computed from a ledger that may already hold the write.
func (s *Standings) begin() func() {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.pending--
			s.version++
			s.mu.Unlock()
		})
	}
}

// resetIf replaces the standings with rows unless a delta was applied since version was read
// or a registered write is still in flight.
func (s *Standings) resetIf(version uint64, rows []*standing) bool {
	s.mu.Lock()
	if s.version != version || s.pending > 0 {
		s.mu.Unlock()
		return false
	}

	order := make([]*standing, len(rows))
	copy(order, rows)
	sortStandings(order)

	byID := make(map[string]*standing, len(order))
	for _, row := range order {
		byID[row.user.ID] = row
	}
	s.order = order
	s.byID = byID
	s.mu.Unlock()

	s.notify()
	return true
}

// Apply moves user by delta points. approvedAt is the creation time of a newly approved
// submission, nil for adjustments. It returns the user's rank moves in the global and team scopes.
func (s *Standings) Apply(user models.User, delta int64, approvedAt *time.Time) []RankChange {
	s.mu.Lock()

	row, known := s.byID[user.ID]
	if !known {
		if !user.IsRanked() {
			s.mu.Unlock()
			return nil
		}
		row = &standing{user: user}
	}

	previousTeam := row.user.TeamID
	beforeGlobal, beforeTeam := 0, 0
	if known {
		beforeGlobal, beforeTeam = s.ranksOf(row)
		s.remove(row)
	}

	row.user.DisplayName = user.DisplayName
	row.user.TeamID = user.TeamID
	row.points += delta
	if approvedAt != nil && (row.firstApproved == nil || approvedAt.Before(*row.firstApproved)) {
		at := *approvedAt
		row.firstApproved = &at
	}

	s.insert(row)
	s.byID[user.ID] = row
	s.version++

	afterGlobal, afterTeam := s.ranksOf(row)
	s.mu.Unlock()

	var changes []RankChange
	if beforeGlobal != afterGlobal {
		changes = append(changes, RankChange{UserID: user.ID, Scope: GlobalScope(), Previous: beforeGlobal, Current: afterGlobal})
	}
	if user.TeamID != nil {
		if !sameTeam(previousTeam, user.TeamID) {
			beforeTeam = 0
		}
		if beforeTeam != afterTeam {
			changes = append(changes, RankChange{UserID: user.ID, Scope: TeamScope(*user.TeamID), Previous: beforeTeam, Current: afterTeam})
		}
	}

	s.notify()
	return changes
}

// Snapshot returns the current ranking of scope.
func (s *Standings) Snapshot(scope Scope) []dto.LeaderboardEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entriesFor(s.order, scope)
}

// Subscribe returns a channel signalled after every change. Signals coalesce.
func (s *Standings) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, ch)
			s.subMu.Unlock()
		})
	}
}

func (s *Standings) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// ranksOf returns the 1-based global and team ranks of row. Callers hold mu.
func (s *Standings) ranksOf(row *standing) (int, int) {
	teamRank := 0
	for idx, candidate := range s.order {
		if row.user.TeamID != nil && sameTeam(candidate.user.TeamID, row.user.TeamID) {
			teamRank++
		}
		if candidate == row {
			if row.user.TeamID == nil {
				teamRank = 0
			}
			return idx + 1, teamRank
		}
	}
	return 0, 0
}

func (s *Standings) remove(row *standing) {
	for idx, candidate := range s.order {
		if candidate == row {
			s.order = append(s.order[:idx], s.order[idx+1:]...)
			return
		}
	}
}

func (s *Standings) insert(row *standing) {
	idx := sort.Search(len(s.order), func(i int) bool {
		return rankedBefore(row, s.order[i])
	})
	s.order = append(s.order, nil)
	copy(s.order[idx+1:], s.order[idx:])
	s.order[idx] = row
}

func sameTeam(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
