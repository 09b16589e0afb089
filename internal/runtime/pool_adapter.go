package runtime

import "github.com/acdbrt/acdbrt/internal/subgraphpool"

// sgPoolAdapter narrows *subgraphpool.Pool to graphrt.SgPool: graphrt never
// needs the *subgraphpool.Entry Acquire returns, only the error, and it
// must not import subgraphpool directly (spec §4.5/§4.6 stay loosely
// coupled so the pool can evolve independently of the graph FSM).
type sgPoolAdapter struct {
	pool *subgraphpool.Pool
}

func newSgPoolAdapter(p *subgraphpool.Pool) *sgPoolAdapter {
	return &sgPoolAdapter{pool: p}
}

func (a *sgPoolAdapter) Acquire(sgID uint32) error {
	_, err := a.pool.Acquire(sgID)
	return err
}

func (a *sgPoolAdapter) Release(sgID uint32) error {
	return a.pool.Release(sgID)
}

func (a *sgPoolAdapter) AcquireConn(src, dst uint32) error {
	return a.pool.AcquireConn(src, dst)
}

func (a *sgPoolAdapter) ReleaseConn(src, dst uint32) error {
	return a.pool.ReleaseConn(src, dst)
}
