package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"contactgraph/backend/internal/domain"
	"contactgraph/backend/pkg/logger"
)

// result is the subset of neo4j.ResultWithContext the store reads.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// runner is the subset of neo4j.SessionWithContext the store uses.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// Repository is the Neo4j-backed Store.
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
	retry    RetryPolicy
	logger   *zap.Logger

	newSession func(ctx context.Context, mode neo4j.AccessMode) runner // for testing
}

// Option configures a Repository.
type Option func(*Repository)

// WithDatabase selects the Neo4j database. Empty uses the server default.
func WithDatabase(name string) Option {
	return func(r *Repository) { r.database = name }
}

// WithRetry overrides the retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(r *Repository) { r.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext, opts ...Option) *Repository {
	r := &Repository{
		driver: driver,
		retry:  DefaultRetry,
		logger: logger.Get(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var _ Store = (*Repository)(nil)

// Connect opens a driver and verifies connectivity.
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}
	return driver, nil
}

// Close closes the Neo4j driver connection
func (r *Repository) Close(ctx context.Context) error {
	if r.driver == nil {
		return nil
	}
	return r.driver.Close(ctx)
}

func (r *Repository) session(ctx context.Context, mode neo4j.AccessMode) runner {
	if r.newSession != nil {
		return r.newSession(ctx, mode)
	}
	return &sessionAdapter{sess: r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: r.database,
	})}
}

// run executes one statement under the retry policy and hands every record to visit.
// visit must tolerate being replayed after a retried attempt.
func (r *Repository) run(ctx context.Context, op string, mode neo4j.AccessMode, cypher string, params map[string]any, visit func(*neo4j.Record) error) error {
	attempt := 0
	return r.retry.do(ctx, op, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			r.logger.Debug("Retrying graph operation", zap.String("op", op), zap.Int("attempt", attempt))
		}
		sess := r.session(ctx, mode)
		defer sess.Close(ctx)

		res, err := sess.Run(ctx, cypher, params)
		if err != nil {
			return err
		}
		for res.Next(ctx) {
			if visit == nil {
				continue
			}
			if err := visit(res.Record()); err != nil {
				return permanent(err)
			}
		}
		return res.Err()
	})
}

// EnsureSchema creates the per-partition uniqueness constraints.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, t := range domain.NodeTypes {
		cypher := fmt.Sprintf(
			"CREATE CONSTRAINT %s_identity IF NOT EXISTS FOR (n:%s) REQUIRE (n.userId, n.key) IS UNIQUE",
			lowerLabel(t), t)
		if err := r.run(ctx, "ensure schema", neo4j.AccessModeWrite, cypher, nil, nil); err != nil {
			return fmt.Errorf("failed to create constraint for %s: %w", t, err)
		}
		index := fmt.Sprintf("CREATE INDEX %s_id IF NOT EXISTS FOR (n:%s) ON (n.userId, n.id)", lowerLabel(t), t)
		if err := r.run(ctx, "ensure schema", neo4j.AccessModeWrite, index, nil, nil); err != nil {
			return fmt.Errorf("failed to create index for %s: %w", t, err)
		}
	}
	r.logger.Info("Graph schema ensured")
	return nil
}

// UpsertNode merges a node by natural key
func (r *Repository) UpsertNode(ctx context.Context, userID string, nodeType domain.NodeType, naturalKey string, props map[string]interface{}) (string, error) {
	if err := validateNode(userID, nodeType, naturalKey); err != nil {
		return "", err
	}
	cypher := fmt.Sprintf(`
		MERGE (n:%s {userId: $userId, key: $key})
		ON CREATE SET n.id = $id, n.createdAt = datetime()
		SET n += $props, n.updatedAt = datetime()
		RETURN n.id AS id
	`, nodeType)

	var id string
	err := r.run(ctx, "upsert node", neo4j.AccessModeWrite, cypher, map[string]any{
		"userId": userID,
		"key":    naturalKey,
		"id":     domain.NodeID(nodeType, naturalKey),
		"props":  cleanProps(props),
	}, func(rec *neo4j.Record) error {
		id = getStringFromRecord(rec, "id")
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpsertEdge merges an edge between two existing nodes
func (r *Repository) UpsertEdge(ctx context.Context, userID, sourceID, targetID string, edgeType domain.EdgeType, confidence float64) error {
	if err := validateEdge(userID, sourceID, targetID, edgeType, confidence); err != nil {
		return err
	}
	src, dst := orient(sourceID, targetID, edgeType)
	cypher := fmt.Sprintf(`
		MATCH (a:%s {userId: $userId, id: $source})
		MATCH (b:%s {userId: $userId, id: $target})
		MERGE (a)-[r:%s {userId: $userId}]->(b)
		ON CREATE SET r.createdAt = datetime()
		SET r.confidence = $confidence
		RETURN count(r) AS merged
	`, domain.NodeContact, targetLabel(edgeType), edgeType)

	var merged int64
	err := r.run(ctx, "upsert edge", neo4j.AccessModeWrite, cypher, map[string]any{
		"userId":     userID,
		"source":     src,
		"target":     dst,
		"confidence": confidence,
	}, func(rec *neo4j.Record) error {
		merged = getInt64FromRecord(rec, "merged")
		return nil
	})
	if err != nil {
		return err
	}
	if merged == 0 {
		return ErrMissingEndpoint{SourceID: src, TargetID: dst, Type: edgeType}
	}
	return nil
}

// QueryNeighborhood returns the subgraph within depth hops of nodeID
func (r *Repository) QueryNeighborhood(ctx context.Context, userID, nodeID string, edgeTypes []domain.EdgeType, depth int) (domain.Subgraph, error) {
	depth = clampDepth(depth)
	types := edgeTypeNames(edgeTypes)

	cypher := fmt.Sprintf(`
		MATCH (start {userId: $userId, id: $id})
		OPTIONAL MATCH (start)-[rels*1..%d]-(n)
		WHERE n.userId = $userId
		  AND all(rel IN rels WHERE rel.userId = $userId AND (size($types) = 0 OR type(rel) IN $types))
		WITH start, collect(DISTINCT n) AS found
		UNWIND found + [start] AS x
		RETURN DISTINCT x.id AS id, labels(x)[0] AS label, x.key AS key, properties(x) AS props
	`, depth)

	var nodes []domain.Node
	err := r.run(ctx, "query neighborhood", neo4j.AccessModeRead, cypher, map[string]any{
		"userId": userID,
		"id":     nodeID,
		"types":  types,
	}, func(rec *neo4j.Record) error {
		nodes = append(nodes, nodeFromRecord(userID, rec))
		return nil
	})
	if err != nil {
		return domain.Subgraph{}, err
	}
	if len(nodes) == 0 {
		return domain.Subgraph{}, ErrNodeNotFound{NodeID: nodeID}
	}
	nodes = dedupeNodes(nodes)

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	edges, err := r.edges(ctx, "query neighborhood edges", `
		MATCH (a)-[r]->(b)
		WHERE r.userId = $userId AND a.id IN $ids AND b.id IN $ids
		  AND (size($types) = 0 OR type(r) IN $types)
	`, map[string]any{"userId": userID, "ids": ids, "types": types}, userID)
	if err != nil {
		return domain.Subgraph{}, err
	}
	return domain.Subgraph{Nodes: nodes, Edges: edges}, nil
}

// GraphData returns the whole partition of userID
func (r *Repository) GraphData(ctx context.Context, userID string) (domain.Subgraph, error) {
	var nodes []domain.Node
	err := r.run(ctx, "graph data", neo4j.AccessModeRead, `
		MATCH (n {userId: $userId})
		RETURN n.id AS id, labels(n)[0] AS label, n.key AS key, properties(n) AS props
	`, map[string]any{"userId": userID}, func(rec *neo4j.Record) error {
		nodes = append(nodes, nodeFromRecord(userID, rec))
		return nil
	})
	if err != nil {
		return domain.Subgraph{}, err
	}
	nodes = dedupeNodes(nodes)

	edges, err := r.Edges(ctx, userID)
	if err != nil {
		return domain.Subgraph{}, err
	}
	return domain.Subgraph{Nodes: nodes, Edges: edges}, nil
}

// Edges returns committed edges of the given types
func (r *Repository) Edges(ctx context.Context, userID string, edgeTypes ...domain.EdgeType) ([]domain.Edge, error) {
	return r.edges(ctx, "list edges", `
		MATCH (a)-[r]->(b)
		WHERE r.userId = $userId AND (size($types) = 0 OR type(r) IN $types)
	`, map[string]any{"userId": userID, "types": edgeTypeNames(edgeTypes)}, userID)
}

func (r *Repository) edges(ctx context.Context, op, match string, params map[string]any, userID string) ([]domain.Edge, error) {
	cypher := match + `
		RETURN a.id AS source, b.id AS target, type(r) AS type, r.confidence AS confidence, r.createdAt AS createdAt
	`
	seen := make(map[domain.EdgeKey]bool)
	var edges []domain.Edge
	err := r.run(ctx, op, neo4j.AccessModeRead, cypher, params, func(rec *neo4j.Record) error {
		e := domain.Edge{
			UserID:     userID,
			SourceID:   getStringFromRecord(rec, "source"),
			TargetID:   getStringFromRecord(rec, "target"),
			Type:       domain.EdgeType(getStringFromRecord(rec, "type")),
			Confidence: getFloat64FromRecord(rec, "confidence"),
			CreatedAt:  getTimeFromRecord(rec, "createdAt"),
		}
		if seen[e.Key()] {
			return nil
		}
		seen[e.Key()] = true
		edges = append(edges, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEdges(edges)
	return edges, nil
}

// NodeCounts returns node counts by label
func (r *Repository) NodeCounts(ctx context.Context, userID string) (map[domain.NodeType]int64, error) {
	counts := make(map[domain.NodeType]int64)
	err := r.run(ctx, "node counts", neo4j.AccessModeRead, `
		MATCH (n {userId: $userId})
		RETURN labels(n)[0] AS label, count(n) AS count
	`, map[string]any{"userId": userID}, func(rec *neo4j.Record) error {
		counts[domain.NodeType(getStringFromRecord(rec, "label"))] = getInt64FromRecord(rec, "count")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// DeleteAllForUser removes every node and edge of the partition
func (r *Repository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}
	var deleted int64
	err := r.run(ctx, "delete partition", neo4j.AccessModeWrite, `
		MATCH (n {userId: $userId})
		WITH n, n.id AS id
		DETACH DELETE n
		RETURN count(id) AS deleted
	`, map[string]any{"userId": userID}, func(rec *neo4j.Record) error {
		deleted = getInt64FromRecord(rec, "deleted")
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("Deleted graph partition", zap.String("user_id", userID), zap.Int64("nodes", deleted))
	return deleted, nil
}

// HealthCheck runs a trivial read without retries.
func (r *Repository) HealthCheck(ctx context.Context) Health {
	probe := *r
	probe.retry = RetryPolicy{MaxAttempts: 1, CallTimeout: r.retry.CallTimeout}
	start := time.Now()
	if err := probe.run(ctx, "health check", neo4j.AccessModeRead, "RETURN 1 AS ok", nil, nil); err != nil {
		return Health{Healthy: false, Detail: err.Error()}
	}
	return Health{Healthy: true, Detail: fmt.Sprintf("neo4j ok in %v", time.Since(start).Round(time.Millisecond))}
}

func nodeFromRecord(userID string, rec *neo4j.Record) domain.Node {
	props := getMapFromRecord(rec, "props")
	for k := range reservedProps {
		delete(props, k)
	}
	return domain.Node{
		ID:         getStringFromRecord(rec, "id"),
		UserID:     userID,
		Type:       domain.NodeType(getStringFromRecord(rec, "label")),
		Key:        getStringFromRecord(rec, "key"),
		Properties: props,
	}
}

func dedupeNodes(nodes []domain.Node) []domain.Node {
	seen := make(map[string]bool, len(nodes))
	out := nodes[:0]
	for _, n := range nodes {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortEdges(edges []domain.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.Type < b.Type
	})
}

func edgeTypeNames(types []domain.EdgeType) []string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	return names
}
