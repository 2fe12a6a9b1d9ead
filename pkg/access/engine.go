package access

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/perchsocial/perch/pkg/observability"
)

// Records is the read surface the engine needs from the record store
type Records interface {
	GetRecord(ctx context.Context, postID uuid.UUID, kind Kind) (*Record, error)
}

// PostTree answers structural queries over the reply tree
type PostTree interface {
	// ParentOf returns the parent of a post, nil at a root. Returns
	// NotFound if the post does not exist.
	ParentOf(ctx context.Context, postID uuid.UUID) (*uuid.UUID, error)
	// AuthorOf returns the author of a post.
	AuthorOf(ctx context.Context, postID uuid.UUID) (uuid.UUID, error)
	// ChildrenOf returns the direct replies of a post.
	ChildrenOf(ctx context.Context, postID uuid.UUID) ([]uuid.UUID, error)
}

// GroupResolver expands a user into their effective group set
type GroupResolver interface {
	ClosureOfUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// Engine resolves view and edit access by walking the reply tree's
// inheritance chain. Resolution is read-only; denial is a false result,
// never an error.
type Engine struct {
	records Records
	posts   PostTree
	groups  GroupResolver

	closureCache *expirable.LRU[uuid.UUID, []uuid.UUID]
	maxWalkDepth int

	logger  *observability.Logger
	metrics *observability.Metrics
}

// EngineConfig bundles the engine's collaborators and tuning knobs
type EngineConfig struct {
	Records Records
	Posts   PostTree
	Groups  GroupResolver

	// ClosureCacheSize and ClosureCacheTTL size the group closure cache.
	// A zero size disables caching.
	ClosureCacheSize int
	ClosureCacheTTL  time.Duration
	// MaxWalkDepth bounds the ancestor walk. Zero means the default.
	MaxWalkDepth int

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// DefaultMaxWalkDepth bounds inheritance walks when no explicit limit is
// configured. Reply chains deeper than this resolve to deny.
const DefaultMaxWalkDepth = 512

// NewEngine creates a new access resolution engine
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		records:      cfg.Records,
		posts:        cfg.Posts,
		groups:       cfg.Groups,
		maxWalkDepth: cfg.MaxWalkDepth,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
	if e.maxWalkDepth <= 0 {
		e.maxWalkDepth = DefaultMaxWalkDepth
	}
	if cfg.ClosureCacheSize > 0 {
		e.closureCache = expirable.NewLRU[uuid.UUID, []uuid.UUID](cfg.ClosureCacheSize, nil, cfg.ClosureCacheTTL)
	}
	return e
}

// CanView reports whether the actor may read the post
func (e *Engine) CanView(ctx context.Context, actorID, postID uuid.UUID) (bool, error) {
	start := time.Now()
	allowed, err := e.resolve(ctx, actorID, postID, KindView)
	e.observeCheck(KindView, allowed, err, start)
	return allowed, trace.Wrap(err)
}

// CanEdit reports whether the actor may modify the post. The author
// always may, regardless of record contents.
func (e *Engine) CanEdit(ctx context.Context, actorID, postID uuid.UUID) (bool, error) {
	start := time.Now()

	author, err := e.posts.AuthorOf(ctx, postID)
	if err != nil {
		e.observeCheck(KindEdit, false, err, start)
		return false, trace.Wrap(err)
	}
	if author == actorID {
		e.observeCheck(KindEdit, true, nil, start)
		return true, nil
	}

	allowed, err := e.resolve(ctx, actorID, postID, KindEdit)
	e.observeCheck(KindEdit, allowed, err, start)
	return allowed, trace.Wrap(err)
}

// resolve walks the inheritance chain for one kind. The walk is iterative
// with a visited set and a depth bound, so it terminates even on corrupt
// parent links.
func (e *Engine) resolve(ctx context.Context, actorID, postID uuid.UUID, kind Kind) (bool, error) {
	visited := make(map[uuid.UUID]struct{})
	current := postID

	for depth := 0; depth <= e.maxWalkDepth; depth++ {
		if _, seen := visited[current]; seen {
			// Corrupt parent chain. Deny rather than loop.
			e.logger.WithField("post_id", current.String()).Warn("cycle detected in reply parent chain")
			e.observeDepth(depth)
			return false, nil
		}
		visited[current] = struct{}{}

		parent, err := e.posts.ParentOf(ctx, current)
		if err != nil {
			return false, trace.Wrap(err)
		}

		record, err := e.records.GetRecord(ctx, current, kind)
		if trace.IsNotFound(err) {
			e.observeDepth(depth)
			return false, nil
		}
		if err != nil {
			return false, trace.Wrap(err)
		}

		if !record.Inherit {
			e.observeDepth(depth)
			return e.actorListed(ctx, actorID, record.Entities)
		}

		if parent == nil {
			// Root policy: an inheriting root is unrestricted for view
			// but grants edit to nobody beyond the author.
			e.observeDepth(depth)
			return kind == KindView, nil
		}
		current = *parent
	}

	e.logger.WithField("post_id", postID.String()).Warn("inheritance walk exceeded depth bound")
	e.observeDepth(e.maxWalkDepth)
	return false, nil
}

// EffectivePermissions merges explicit entity lists along the ancestor
// chain into one audit table. Per kind, ancestors above the first
// non-inheriting record contribute nothing.
func (e *Engine) EffectivePermissions(ctx context.Context, postID uuid.UUID) ([]EffectivePermission, error) {
	table := make(map[uuid.UUID]*EffectivePermission)
	visited := make(map[uuid.UUID]struct{})
	current := postID
	viewOpen, editOpen := true, true

	for depth := 0; depth <= e.maxWalkDepth && (viewOpen || editOpen); depth++ {
		if _, seen := visited[current]; seen {
			break
		}
		visited[current] = struct{}{}

		parent, err := e.posts.ParentOf(ctx, current)
		if err != nil {
			return nil, trace.Wrap(err)
		}

		if viewOpen {
			viewOpen, err = e.mergeRecord(ctx, table, current, KindView)
			if err != nil {
				return nil, trace.Wrap(err)
			}
		}
		if editOpen {
			editOpen, err = e.mergeRecord(ctx, table, current, KindEdit)
			if err != nil {
				return nil, trace.Wrap(err)
			}
		}

		if parent == nil {
			break
		}
		current = *parent
	}

	result := make([]EffectivePermission, 0, len(table))
	for _, entry := range table {
		result = append(result, *entry)
	}
	return result, nil
}

// mergeRecord folds one record's entity list into the table. It returns
// whether the walk should keep following this kind upward.
func (e *Engine) mergeRecord(ctx context.Context, table map[uuid.UUID]*EffectivePermission, postID uuid.UUID, kind Kind) (bool, error) {
	record, err := e.records.GetRecord(ctx, postID, kind)
	if trace.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, trace.Wrap(err)
	}

	for _, entityID := range record.Entities {
		entry, ok := table[entityID]
		if !ok {
			entry = &EffectivePermission{EntityID: entityID}
			table[entityID] = entry
		}
		switch kind {
		case KindView:
			entry.CanView = true
		case KindEdit:
			entry.CanEdit = true
		}
	}

	return record.Inherit, nil
}

// actorListed reports whether the actor, or any group in the actor's
// closure, appears in the entity list.
func (e *Engine) actorListed(ctx context.Context, actorID uuid.UUID, entities []uuid.UUID) (bool, error) {
	if len(entities) == 0 {
		return false, nil
	}

	listed := make(map[uuid.UUID]struct{}, len(entities))
	for _, id := range entities {
		listed[id] = struct{}{}
	}
	if _, ok := listed[actorID]; ok {
		return true, nil
	}

	closure, err := e.closureOf(ctx, actorID)
	if err != nil {
		return false, trace.Wrap(err)
	}
	for _, groupID := range closure {
		if _, ok := listed[groupID]; ok {
			return true, nil
		}
	}
	return false, nil
}

// closureOf returns the actor's group closure, consulting the cache first
func (e *Engine) closureOf(ctx context.Context, actorID uuid.UUID) ([]uuid.UUID, error) {
	if e.closureCache != nil {
		if closure, ok := e.closureCache.Get(actorID); ok {
			e.metrics.ClosureCacheHits.Inc()
			return closure, nil
		}
		e.metrics.ClosureCacheMisses.Inc()
	}

	closure, err := e.groups.ClosureOfUser(ctx, actorID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if e.closureCache != nil {
		e.closureCache.Add(actorID, closure)
	}
	return closure, nil
}

// InvalidateClosure drops a user's cached closure after group mutations
func (e *Engine) InvalidateClosure(userID uuid.UUID) {
	if e.closureCache != nil {
		e.closureCache.Remove(userID)
	}
}

// PurgeClosures drops every cached closure. Called after mutations whose
// affected user set is not cheap to enumerate, such as subgroup rewires.
func (e *Engine) PurgeClosures() {
	if e.closureCache != nil {
		e.closureCache.Purge()
	}
}

// observeCheck records check metrics
func (e *Engine) observeCheck(kind Kind, allowed bool, err error, start time.Time) {
	result := "deny"
	switch {
	case err != nil:
		result = "error"
	case allowed:
		result = "allow"
	}
	e.metrics.AccessChecksTotal.WithLabelValues(string(kind), result).Inc()
	e.metrics.AccessCheckDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}

// observeDepth records how many ancestors a walk visited
func (e *Engine) observeDepth(depth int) {
	e.metrics.ResolutionWalkDepth.Observe(float64(depth))
}
