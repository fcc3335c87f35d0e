package dedup

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/openlibhub/recordman/internal/domain"
)

// Store defines the document-store operations the engine needs. Within one
// run the store must be read-your-writes consistent: a key saved for an
// earlier record must be visible to candidate lookups for later records.
type Store interface {
	// FindByIdentifierKey returns all records sharing one identifier key.
	FindByIdentifierKey(ctx context.Context, key string) ([]*domain.Record, error)

	// FindByFuzzyKey returns all records sharing one fuzzy lookup key.
	FindByFuzzyKey(ctx context.Context, key string) ([]*domain.Record, error)

	// LoadByID loads one record, or domain.ErrNotFound.
	LoadByID(ctx context.Context, sourceID, recordID string) (*domain.Record, error)

	// Save persists the record together with its comparison keys. The record
	// and its keys must be written atomically.
	Save(ctx context.Context, rec *domain.Record, keys Keys) error

	// AssignGroup sets the group membership for the given records, creating
	// the group if needed. Membership and each member's group reference must
	// be written atomically.
	AssignGroup(ctx context.Context, groupID string, members []domain.RecordKey) error

	// DissolveGroup removes a group and clears the group reference on all of
	// its members.
	DissolveGroup(ctx context.Context, groupID string) error

	// GroupMembers returns the current members of a group.
	GroupMembers(ctx context.Context, groupID string) ([]*domain.Record, error)
}

// MatchKind classifies how a record was matched into a group.
type MatchKind string

// Match kinds.
const (
	MatchNone       MatchKind = "none"
	MatchIdentifier MatchKind = "identifier"
	MatchFuzzy      MatchKind = "fuzzy"
)

// Config holds the engine's matching parameters.
type Config struct {
	// TitleWeight is the weight of title similarity in the fuzzy score.
	TitleWeight float64

	// AuthorWeight is the weight of author equality in the fuzzy score.
	AuthorWeight float64

	// FuzzyThreshold is the combined score a fuzzy candidate must reach to be
	// accepted (e.g. 0.8).
	FuzzyThreshold float64

	// YearTolerance is the maximum publication-year difference two records
	// may have, when both years are known, before an identifier match is
	// treated as a conflict instead of merged.
	YearTolerance int
}

// DefaultConfig returns the engine's default matching parameters.
func DefaultConfig() Config {
	return Config{
		TitleWeight:    0.7,
		AuthorWeight:   0.3,
		FuzzyThreshold: 0.8,
		YearTolerance:  1,
	}
}

// Result describes the outcome of processing one record.
type Result struct {
	// Kind is the strongest evidence behind the match, or MatchNone.
	Kind MatchKind

	// GroupID is the canonical group the record belongs to after processing.
	// Empty when unmatched. In mark-only mode this is the group the record
	// would have joined.
	GroupID string

	// MatchedWith lists the candidates the record matched against.
	MatchedWith []domain.RecordKey

	// Score is the best combined similarity score among fuzzy matches.
	Score float64

	// Conflicts lists identifier-key candidates rejected because their
	// secondary attributes disagree. These require operator review.
	Conflicts []string
}

// Matched reports whether the record joined (or, in mark-only mode, would
// join) a group.
func (r *Result) Matched() bool {
	return r.Kind != MatchNone
}

// Engine runs the matching state machine for one record at a time against the
// store. It assumes at most one writer per source's keys; concurrent runs are
// prevented by the caller's run lock, not here.
type Engine struct {
	store  Store
	cfg    Config
	logger zerolog.Logger
}

// NewEngine creates an engine with the given store and configuration.
func NewEngine(store Store, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "dedup_engine").Logger(),
	}
}

// Process re-derives the record's comparison keys, matches it against the
// store and updates group assignments. It is idempotent: processing an
// unchanged record twice leaves group membership unchanged, and a set of
// records converges to the same partition regardless of processing order.
//
// With markOnly set, matching runs but no group is created or modified; the
// would-be assignment is reported in the Result only.
//
// The record is mutated in place (state, group reference, warnings) and saved
// through the store on every outcome.
func (e *Engine) Process(ctx context.Context, rec *domain.Record, markOnly bool) (*Result, error) {
	// Component parts never match independently; they are folded into their
	// host by the part merger. Saving with empty keys keeps them out of every
	// candidate lookup.
	if rec.IsComponentPart {
		rec.State = domain.StateUnmatched
		if err := e.store.Save(ctx, rec, Keys{}); err != nil {
			return nil, fmt.Errorf("saving component part %s: %w", rec.Key(), err)
		}
		return &Result{Kind: MatchNone}, nil
	}

	keys := ExtractKeys(rec.Attributes)
	rec.State = domain.StateKeyed

	// A record with no identifiers and no title carries nothing to match on.
	// Silence in the data is never a match signal.
	if keys.IsEmpty() || !rec.HasDedupEvidence() {
		rec.AddWarning("insufficient evidence for deduplication")
		return e.finishUnmatched(ctx, rec, keys, &Result{Kind: MatchNone}, markOnly)
	}

	result, accepted, err := e.findMatches(ctx, rec, keys)
	if err != nil {
		return nil, err
	}
	for _, c := range result.Conflicts {
		rec.AddWarning(c)
	}

	if len(accepted) == 0 {
		return e.finishUnmatched(ctx, rec, keys, result, markOnly)
	}

	if markOnly {
		rec.State = domain.StateMatched
		members, err := e.unionMembers(ctx, rec, accepted)
		if err != nil {
			return nil, err
		}
		result.GroupID = domain.CanonicalGroupID(members)
		if err := e.store.Save(ctx, rec, keys); err != nil {
			return nil, fmt.Errorf("saving record %s: %w", rec.Key(), err)
		}
		return result, nil
	}

	groupID, err := e.union(ctx, rec, accepted)
	if err != nil {
		return nil, err
	}
	rec.State = domain.StateMatched
	rec.DedupGroupID = groupID
	result.GroupID = groupID
	if err := e.store.Save(ctx, rec, keys); err != nil {
		return nil, fmt.Errorf("saving record %s: %w", rec.Key(), err)
	}

	e.logger.Debug().
		Str("record", rec.Key().String()).
		Str("group", groupID).
		Str("kind", string(result.Kind)).
		Float64("score", result.Score).
		Msg("record matched")
	return result, nil
}

// findMatches evaluates all candidates and returns the accepted ones.
// Identifier matches carry strong evidence on their own (subject to the year
// conflict check); fuzzy candidates are scored against the threshold. Both
// kinds are collected in one pass so that a record linking two existing
// singletons by different evidence pulls both into one group. When every
// identifier candidate conflicted, fuzzy matching is suppressed: conflicting
// strong evidence is left for operator review, not overridden by a weaker
// signal.
func (e *Engine) findMatches(ctx context.Context, rec *domain.Record, keys Keys) (*Result, []*domain.Record, error) {
	result := &Result{Kind: MatchNone}

	var accepted []*domain.Record
	seen := make(map[domain.RecordKey]struct{})
	sawIdentifierCandidate := false

	for _, key := range keys.Identifier {
		candidates, err := e.store.FindByIdentifierKey(ctx, key)
		if err != nil {
			return nil, nil, fmt.Errorf("looking up identifier key %q: %w", key, err)
		}
		for _, cand := range candidates {
			if !e.eligible(rec, cand) {
				continue
			}
			if _, dup := seen[cand.Key()]; dup {
				continue
			}
			seen[cand.Key()] = struct{}{}
			sawIdentifierCandidate = true
			if e.yearsConflict(rec.Attributes.PublicationYear, cand.Attributes.PublicationYear) {
				result.Conflicts = append(result.Conflicts, fmt.Sprintf(
					"identifier match with %s rejected: publication year %s vs %s",
					cand.Key(), rec.Attributes.PublicationYear, cand.Attributes.PublicationYear))
				continue
			}
			result.Kind = MatchIdentifier
			result.MatchedWith = append(result.MatchedWith, cand.Key())
			accepted = append(accepted, cand)
		}
	}
	if sawIdentifierCandidate && len(accepted) == 0 {
		// Every identifier candidate conflicted.
		return result, nil, nil
	}

	if keys.Fuzzy == "" {
		return result, accepted, nil
	}
	candidates, err := e.store.FindByFuzzyKey(ctx, keys.Fuzzy)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up fuzzy key %q: %w", keys.Fuzzy, err)
	}
	for _, cand := range candidates {
		if !e.eligible(rec, cand) {
			continue
		}
		if _, dup := seen[cand.Key()]; dup {
			continue
		}
		score := e.score(rec, cand)
		if score < e.cfg.FuzzyThreshold {
			continue
		}
		seen[cand.Key()] = struct{}{}
		if result.Kind == MatchNone {
			result.Kind = MatchFuzzy
		}
		if score > result.Score {
			result.Score = score
		}
		result.MatchedWith = append(result.MatchedWith, cand.Key())
		accepted = append(accepted, cand)
	}
	return result, accepted, nil
}

// eligible filters candidate records: never the record itself, never deleted
// records, never component parts.
func (e *Engine) eligible(rec, cand *domain.Record) bool {
	return cand.Key() != rec.Key() && !cand.Deleted && !cand.IsComponentPart
}

// score combines title similarity and author equality into one value in [0, 1].
func (e *Engine) score(rec, cand *domain.Record) float64 {
	s := e.cfg.TitleWeight * TitleSimilarity(rec.Attributes.Title, cand.Attributes.Title)
	if AuthorsEqual(rec.Attributes.MainAuthor, cand.Attributes.MainAuthor) {
		s += e.cfg.AuthorWeight
	}
	return s
}

// yearsConflict reports whether two publication years are both known and
// differ by more than the configured tolerance.
func (e *Engine) yearsConflict(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ya, errA := strconv.Atoi(a)
	yb, errB := strconv.Atoi(b)
	if errA != nil || errB != nil {
		return false
	}
	diff := ya - yb
	if diff < 0 {
		diff = -diff
	}
	return diff > e.cfg.YearTolerance
}

// unionMembers computes the full member set a merge of rec with the accepted
// candidates (and their existing groups) would produce, without writing
// anything. The result is sorted for determinism.
func (e *Engine) unionMembers(ctx context.Context, rec *domain.Record, accepted []*domain.Record) ([]domain.RecordKey, error) {
	memberSet := map[domain.RecordKey]struct{}{rec.Key(): {}}
	for _, cand := range accepted {
		if cand.DedupGroupID == "" {
			memberSet[cand.Key()] = struct{}{}
			continue
		}
		members, err := e.store.GroupMembers(ctx, cand.DedupGroupID)
		if err != nil {
			return nil, fmt.Errorf("loading group %s: %w", cand.DedupGroupID, err)
		}
		for _, m := range members {
			memberSet[m.Key()] = struct{}{}
		}
	}

	keys := make([]domain.RecordKey, 0, len(memberSet))
	for k := range memberSet {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// union merges rec and all accepted candidates (together with their existing
// groups) into one group and returns its canonical id. The canonical id is
// the lexicographically smallest member key, so membership converges to the
// same partition regardless of processing order.
func (e *Engine) union(ctx context.Context, rec *domain.Record, accepted []*domain.Record) (string, error) {
	members, err := e.unionMembers(ctx, rec, accepted)
	if err != nil {
		return "", err
	}
	canonical := domain.CanonicalGroupID(members)

	// Groups being merged away are dissolved before the combined group is
	// written under the canonical id.
	oldGroups := make(map[string]struct{})
	for _, cand := range accepted {
		if cand.DedupGroupID != "" {
			oldGroups[cand.DedupGroupID] = struct{}{}
		}
	}

	// A record changing groups leaves its old one first, so a stale group
	// dissolves or re-partitions when the record departs. This holds even
	// when the record keeps its old group id as the canonical id of the new
	// group: former co-members dropped from the member set must have their
	// group reference cleared, and only leaveGroup does that.
	if rec.DedupGroupID != "" {
		if _, merging := oldGroups[rec.DedupGroupID]; !merging {
			if err := e.leaveGroup(ctx, rec); err != nil {
				return "", err
			}
		}
	}

	for old := range oldGroups {
		if old == canonical {
			continue
		}
		if err := e.store.DissolveGroup(ctx, old); err != nil {
			return "", fmt.Errorf("dissolving group %s: %w", old, err)
		}
	}
	if err := e.store.AssignGroup(ctx, canonical, members); err != nil {
		return "", fmt.Errorf("assigning group %s: %w", canonical, err)
	}
	return canonical, nil
}

// finishUnmatched saves the record as a singleton, leaving its previous group
// (if any) so that stale two-member groups dissolve.
func (e *Engine) finishUnmatched(ctx context.Context, rec *domain.Record, keys Keys, result *Result, markOnly bool) (*Result, error) {
	if !markOnly && rec.DedupGroupID != "" {
		if err := e.leaveGroup(ctx, rec); err != nil {
			return nil, err
		}
	}
	rec.State = domain.StateUnmatched
	if !markOnly {
		rec.DedupGroupID = ""
	}
	if err := e.store.Save(ctx, rec, keys); err != nil {
		return nil, fmt.Errorf("saving record %s: %w", rec.Key(), err)
	}
	return result, nil
}

// RemoveFromGroup detaches rec from its current group, e.g. before the record
// is deleted. The remaining members keep the group under a possibly different
// canonical id, or the group dissolves when fewer than two members remain.
// A record without a group is left untouched.
func (e *Engine) RemoveFromGroup(ctx context.Context, rec *domain.Record) error {
	if rec.DedupGroupID == "" {
		return nil
	}
	return e.leaveGroup(ctx, rec)
}

// leaveGroup removes rec from its current group. The remaining members keep
// the group under a possibly different canonical id, or the group dissolves
// entirely when fewer than two members remain.
func (e *Engine) leaveGroup(ctx context.Context, rec *domain.Record) error {
	groupID := rec.DedupGroupID
	members, err := e.store.GroupMembers(ctx, groupID)
	if err != nil {
		return fmt.Errorf("loading group %s: %w", groupID, err)
	}

	var remaining []domain.RecordKey
	for _, m := range members {
		if m.Key() != rec.Key() {
			remaining = append(remaining, m.Key())
		}
	}

	if err := e.store.DissolveGroup(ctx, groupID); err != nil {
		return fmt.Errorf("dissolving group %s: %w", groupID, err)
	}
	if len(remaining) >= 2 {
		canonical := domain.CanonicalGroupID(remaining)
		if err := e.store.AssignGroup(ctx, canonical, remaining); err != nil {
			return fmt.Errorf("assigning group %s: %w", canonical, err)
		}
	} else if len(remaining) == 1 {
		e.logger.Debug().
			Str("group", groupID).
			Str("remaining", remaining[0].String()).
			Msg("group dissolved below two members")
	}
	rec.DedupGroupID = ""
	return nil
}
