package engine

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/pithecene-io/crucible/types"
)

const registryShards = 16

// registry tracks live run actors. Striped two ways: project shards
// enforce the one-active-run-per-project rule, run shards serve id
// lookups. Terminal actors linger until the retention janitor sweeps
// them so observers can still snapshot a finished run.
type registry struct {
	retention time.Duration

	projects [registryShards]projectShard
	runs     [registryShards]runShard
}

type projectShard struct {
	mu     sync.Mutex
	active map[string]*actor // projectID → non-terminal actor
}

type runShard struct {
	mu   sync.Mutex
	byID map[string]*actor
}

func newRegistry(retention time.Duration) *registry {
	r := &registry{retention: retention}
	for i := range r.projects {
		r.projects[i].active = make(map[string]*actor)
	}
	for i := range r.runs {
		r.runs[i].byID = make(map[string]*actor)
	}
	return r
}

func shardIndex(key string) int {
	f := fnv.New32a()
	_, _ = f.Write([]byte(key))
	return int(f.Sum32() % registryShards)
}

// create registers the actor, atomically checking that its project has
// no other active run. The check and the insert happen under one lock,
// so two racing creates for the same project serialize and exactly one
// wins.
func (r *registry) create(a *actor) error {
	ps := &r.projects[shardIndex(a.run.ProjectID)]
	ps.mu.Lock()
	if _, busy := ps.active[a.run.ProjectID]; busy {
		ps.mu.Unlock()
		return types.ErrConflict
	}
	ps.active[a.run.ProjectID] = a
	ps.mu.Unlock()

	rs := &r.runs[shardIndex(a.run.ID)]
	rs.mu.Lock()
	rs.byID[a.run.ID] = a
	rs.mu.Unlock()
	return nil
}

// lookup returns the actor for a live run id.
func (r *registry) lookup(runID string) (*actor, error) {
	rs := &r.runs[shardIndex(runID)]
	rs.mu.Lock()
	a, ok := rs.byID[runID]
	rs.mu.Unlock()
	if !ok {
		return nil, types.ErrRunNotFound
	}
	return a, nil
}

// release clears the project's active slot once its run goes terminal,
// allowing the next run to be created immediately. The run id entry
// stays until the janitor's retention window lapses.
func (r *registry) release(a *actor) {
	ps := &r.projects[shardIndex(a.run.ProjectID)]
	ps.mu.Lock()
	if ps.active[a.run.ProjectID] == a {
		delete(ps.active, a.run.ProjectID)
	}
	ps.mu.Unlock()
}

// sweep evicts terminal actors whose retention window has lapsed and
// returns them so the caller can free associated resources.
func (r *registry) sweep(now time.Time) []*actor {
	var evicted []*actor
	for i := range r.runs {
		rs := &r.runs[i]
		rs.mu.Lock()
		for id, a := range rs.byID {
			if t, done := a.terminalAt(); done && now.Sub(t) >= r.retention {
				delete(rs.byID, id)
				evicted = append(evicted, a)
			}
		}
		rs.mu.Unlock()
	}
	return evicted
}
