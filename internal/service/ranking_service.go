package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/upskill-api/internal/dto"
	"github.com/noah-isme/upskill-api/internal/models"
	"github.com/noah-isme/upskill-api/internal/observability"
	"github.com/noah-isme/upskill-api/internal/repository"
)

const (
	leaderboardVersionKey = "leaderboard:version"
	rebuildAttempts       = 5
	rebuildBackoff        = 20 * time.Millisecond
)

var errStandingsBusy = errors.New("standings kept changing during rebuild")

// Scope selects a leaderboard population: everyone, or one team.
type Scope struct {
	TeamID string
}

// GlobalScope ranks every employee and lead.
func GlobalScope() Scope {
	return Scope{}
}

// TeamScope ranks the employees and leads of one team.
func TeamScope(teamID string) Scope {
	return Scope{TeamID: teamID}
}

// IsGlobal reports whether the scope covers everyone.
func (s Scope) IsGlobal() bool {
	return s.TeamID == ""
}

// Includes reports whether user belongs to the scope's population.
func (s Scope) Includes(user models.User) bool {
	if !user.IsRanked() {
		return false
	}
	return s.IsGlobal() || user.InTeam(s.TeamID)
}

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "team:" + s.TeamID
}

func (s Scope) kind() string {
	if s.IsGlobal() {
		return "global"
	}
	return "team"
}

// ParseScope reads "global" or "team:<id>". An empty value means global.
func ParseScope(raw string) (Scope, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "" || strings.EqualFold(raw, "global"):
		return GlobalScope(), nil
	case len(raw) > len("team:") && strings.EqualFold(raw[:len("team:")], "team:"):
		teamID := strings.TrimSpace(raw[len("team:"):])
		if teamID == "" {
			break
		}
		return TeamScope(teamID), nil
	}

	return Scope{}, validationError(fmt.Sprintf("unknown scope %q", raw), nil)
}

// RankingService computes tie-broken leaderboards and keeps the incremental standings current.
type RankingService interface {
	// Rank computes scope from the ledger, serving a cached snapshot when one matches the current ledger version.
	Rank(ctx context.Context, scope Scope) (dto.LeaderboardResponse, error)
	// Leaderboard is Rank behind the viewer's visibility rules. rawScope "team" means the viewer's own team.
	Leaderboard(ctx context.Context, viewerID, rawScope string) (dto.LeaderboardResponse, error)
	Export(ctx context.Context, viewerID, rawScope string) (LeaderboardExport, error)
	// AuthorizeLive resolves the scope a viewer may stream.
	AuthorizeLive(ctx context.Context, viewerID, rawScope string) (Scope, error)
	// Watch streams a snapshot of scope now and after every standings change until ctx ends.
	Watch(ctx context.Context, scope Scope) <-chan dto.LeaderboardResponse
	// Track registers a ledger write before its transaction starts. Call the returned func
	// once the write has been applied or abandoned.
	Track() func()
	// Apply records a committed ledger delta for user and returns the user's rank moves.
	Apply(ctx context.Context, user models.User, delta int64, approvedAt *time.Time) []RankChange
	Invalidate(ctx context.Context)
	Rebuild(ctx context.Context) error
	Start(ctx context.Context, interval time.Duration)
}

// LeaderboardExport is a rendered spreadsheet of one scope.
type LeaderboardExport struct {
	FileName string
	Content  []byte
}

type rankingService struct {
	store     repository.Store
	directory Directory
	cache     *redis.Client
	cacheTTL  time.Duration
	standings *Standings
	locks     *keyedLock
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewRankingService constructs the ranking engine. cache may be nil.
func NewRankingService(store repository.Store, directory Directory, cache *redis.Client, cacheTTL time.Duration, logger zerolog.Logger) RankingService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	return &rankingService{
		store:     store,
		directory: directory,
		cache:     cache,
		cacheTTL:  cacheTTL,
		standings: NewStandings(),
		locks:     newKeyedLock(),
		logger:    logger.With().Str("component", "ranking_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/upskill-api/internal/service/ranking"),
		now:       time.Now,
	}
}

func (s *rankingService) Rank(ctx context.Context, scope Scope) (dto.LeaderboardResponse, error) {
	ctx, span := s.tracer.Start(ctx, "leaderboard.rank", trace.WithAttributes(attribute.String("leaderboard.scope", scope.String())))
	defer span.End()

	key, cacheable := s.cacheKey(ctx, scope)
	if cacheable {
		if cached, ok := s.readCache(ctx, key); ok {
			observability.LeaderboardCache().WithLabelValues("hit").Inc()
			span.SetAttributes(attribute.Bool("leaderboard.cache_hit", true))
			return cached, nil
		}
		observability.LeaderboardCache().WithLabelValues("miss").Inc()
	}

	rows, err := s.compute(ctx, scope)
	if err != nil {
		span.RecordError(err)
		return dto.LeaderboardResponse{}, err
	}

	response := dto.LeaderboardResponse{
		Scope:   scope.String(),
		AsOf:    s.now().UTC(),
		Entries: entriesFor(rows, scope),
	}

	if cacheable {
		s.writeCache(ctx, key, response)
	}

	return response, nil
}

// compute ranks scope from scratch. Ledger sums and approval dates come from one read transaction.
func (s *rankingService) compute(ctx context.Context, scope Scope) ([]*standing, error) {
	start := time.Now()
	defer func() {
		observability.LeaderboardCompute().WithLabelValues(scope.kind()).Observe(time.Since(start).Seconds())
	}()

	var teamID *string
	if !scope.IsGlobal() {
		teamID = &scope.TeamID
	}

	users, err := s.directory.RankedUsers(ctx, teamID)
	if err != nil {
		return nil, err
	}

	var ids []string
	if !scope.IsGlobal() {
		ids = make([]string, 0, len(users))
		for _, user := range users {
			ids = append(ids, user.ID)
		}
	}

	var (
		totals map[string]int64
		first  map[string]time.Time
	)
	err = s.store.ReadSnapshot(ctx, func(tx repository.Tx) error {
		var err error
		if totals, err = tx.Ledger.Totals(ctx, ids); err != nil {
			return err
		}
		first, err = tx.Submissions.FirstApprovedAt(ctx, ids)
		return err
	})
	if err != nil {
		return nil, storageError("", err)
	}

	rows := make([]*standing, 0, len(users))
	for _, user := range users {
		row := &standing{user: user, points: totals[user.ID]}
		if at, ok := first[user.ID]; ok {
			at := at
			row.firstApproved = &at
		}
		rows = append(rows, row)
	}
	sortStandings(rows)

	return rows, nil
}

func (s *rankingService) Leaderboard(ctx context.Context, viewerID, rawScope string) (dto.LeaderboardResponse, error) {
	viewer, err := resolvePrincipal(ctx, s.directory, viewerID)
	if err != nil {
		return dto.LeaderboardResponse{}, err
	}

	scope, err := visibleScope(viewer, rawScope)
	if err != nil {
		return dto.LeaderboardResponse{}, err
	}

	return s.Rank(ctx, scope)
}

func (s *rankingService) Export(ctx context.Context, viewerID, rawScope string) (LeaderboardExport, error) {
	viewer, err := resolvePrincipal(ctx, s.directory, viewerID)
	if err != nil {
		return LeaderboardExport{}, err
	}

	scope, err := visibleScope(viewer, rawScope)
	if err != nil {
		return LeaderboardExport{}, err
	}

	switch viewer.Role {
	case models.RoleHOD:
	case models.RoleLead:
		if scope.IsGlobal() {
			return LeaderboardExport{}, forbiddenError("leads may only export their own team")
		}
	default:
		return LeaderboardExport{}, forbiddenError("only leads and heads of department export leaderboards")
	}

	board, err := s.Rank(ctx, scope)
	if err != nil {
		return LeaderboardExport{}, err
	}

	content, err := renderLeaderboardXLSX(board)
	if err != nil {
		return LeaderboardExport{}, fmt.Errorf("render leaderboard export: %w", err)
	}

	name := strings.ReplaceAll(scope.String(), ":", "-")
	return LeaderboardExport{
		FileName: fmt.Sprintf("leaderboard-%s-%s.xlsx", name, board.AsOf.Format("20060102")),
		Content:  content,
	}, nil
}

func (s *rankingService) AuthorizeLive(ctx context.Context, viewerID, rawScope string) (Scope, error) {
	viewer, err := resolvePrincipal(ctx, s.directory, viewerID)
	if err != nil {
		return Scope{}, err
	}

	return visibleScope(viewer, rawScope)
}

func (s *rankingService) Watch(ctx context.Context, scope Scope) <-chan dto.LeaderboardResponse {
	out := make(chan dto.LeaderboardResponse, 1)
	signals, cancel := s.standings.Subscribe()

	go func() {
		defer close(out)
		defer cancel()

		send := func() bool {
			snapshot := dto.LeaderboardResponse{
				Scope:   scope.String(),
				AsOf:    s.now().UTC(),
				Entries: s.standings.Snapshot(scope),
			}
			select {
			case out <- snapshot:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-signals:
				if !send() {
					return
				}
			}
		}
	}()

	return out
}

func (s *rankingService) Track() func() {
	return s.standings.begin()
}

func (s *rankingService) Apply(ctx context.Context, user models.User, delta int64, approvedAt *time.Time) []RankChange {
	defer s.Invalidate(ctx)

	unlock, err := s.locks.Lock(ctx, user.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("standings update skipped; next rebuild will catch up")
		return nil
	}
	defer unlock()

	return s.standings.Apply(user, delta, approvedAt)
}

// Invalidate bumps the ledger version so cached snapshots stop matching.
func (s *rankingService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := s.cache.Incr(ctx, leaderboardVersionKey).Err(); err != nil {
		s.logger.Error().Err(err).Msg("failed to bump leaderboard version")
	}
}

// Rebuild recomputes the global standings from scratch and swaps them in.
func (s *rankingService) Rebuild(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "leaderboard.rebuild")
	defer span.End()

	for attempt := 0; attempt < rebuildAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * rebuildBackoff):
			}
		}

		version := s.standings.Version()
		rows, err := s.compute(ctx, GlobalScope())
		if err != nil {
			span.RecordError(err)
			return err
		}
		if s.standings.resetIf(version, rows) {
			s.logger.Debug().Int("users", len(rows)).Msg("standings rebuilt")
			return nil
		}
	}

	return errStandingsBusy
}

func (s *rankingService) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := s.Rebuild(ctx)
				switch {
				case err == nil || ctx.Err() != nil:
				case errors.Is(err, errStandingsBusy):
					s.logger.Debug().Msg("standings busy; rebuild deferred to next tick")
				default:
					s.logger.Warn().Err(err).Msg("periodic standings rebuild failed")
				}
			}
		}
	}()
}

func (s *rankingService) cacheKey(ctx context.Context, scope Scope) (string, bool) {
	if s.cache == nil {
		return "", false
	}

	version, err := s.cache.Get(ctx, leaderboardVersionKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		version = "0"
	case err != nil:
		s.logger.Warn().Err(err).Msg("leaderboard cache unavailable")
		return "", false
	}

	return fmt.Sprintf("leaderboard:%s:%s", version, scope.String()), true
}

func (s *rankingService) readCache(ctx context.Context, key string) (dto.LeaderboardResponse, bool) {
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Str("key", key).Msg("leaderboard cache read failed")
		}
		return dto.LeaderboardResponse{}, false
	}

	var cached dto.LeaderboardResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding unreadable leaderboard snapshot")
		return dto.LeaderboardResponse{}, false
	}

	return cached, true
}

func (s *rankingService) writeCache(ctx context.Context, key string, response dto.LeaderboardResponse) {
	payload, err := json.Marshal(response)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("leaderboard cache write failed")
	}
}

// visibleScope parses rawScope and checks viewer may read it. Everyone reads global;
// employees and leads read only their own team; heads of department read any team.
func visibleScope(viewer models.User, rawScope string) (Scope, error) {
	var (
		scope Scope
		err   error
	)
	if strings.EqualFold(strings.TrimSpace(rawScope), "team") {
		if viewer.TeamID == nil {
			return Scope{}, validationError("viewer has no team", nil)
		}
		scope = TeamScope(*viewer.TeamID)
	} else if scope, err = ParseScope(rawScope); err != nil {
		return Scope{}, err
	}

	if scope.IsGlobal() || viewer.Role == models.RoleHOD || viewer.InTeam(scope.TeamID) {
		return scope, nil
	}

	return Scope{}, forbiddenError("cannot view leaderboard " + scope.String())
}
