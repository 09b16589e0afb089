package registry

import (
	"context"
	"time"

	"github.com/acdbrt/acdbrt/pkg/log"
)

var hookLog = log.Component("REGISTRY-SQL")

type queryTimingKey struct{}

// hooks satisfies sqlhooks.Hooks, logging every registry query and its
// elapsed time the way the teacher's repository.Hooks does for job queries.
type hooks struct{}

func (h *hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	hookLog.Debugf("query %s %v", query, args)
	return context.WithValue(ctx, queryTimingKey{}, time.Now()), nil
}

func (h *hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(queryTimingKey{}).(time.Time); ok {
		hookLog.Debugf("took %s", time.Since(begin))
	}
	return ctx, nil
}
