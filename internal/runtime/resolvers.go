package runtime

import (
	"sync"

	"github.com/acdbrt/acdbrt/internal/registry"
	"github.com/acdbrt/acdbrt/internal/resolver"
	"github.com/acdbrt/acdbrt/pkg/acdbfile"
	"github.com/acdbrt/acdbrt/pkg/acdberr"
)

const component = "RUNTIME"

// resolverCache opens one resolver.Resolver per registered database file
// and keeps it around for the database's lifetime, so a graph open doesn't
// re-parse the .acdb file on every call.
type resolverCache struct {
	reg *registry.Registry

	mu        sync.Mutex
	resolvers map[registry.Handle]*resolver.Resolver
	files     map[registry.Handle]*acdbfile.File
}

func newResolverCache(reg *registry.Registry) *resolverCache {
	return &resolverCache{
		reg:       reg,
		resolvers: make(map[registry.Handle]*resolver.Resolver),
		files:     make(map[registry.Handle]*acdbfile.File),
	}
}

// Get returns the resolver for handle, opening and parsing its .acdb file
// on first use.
func (c *resolverCache) Get(handle registry.Handle) (*resolver.Resolver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.resolvers[handle]; ok {
		return r, nil
	}

	sets, err := c.reg.GetAllFileSets(registry.Filter{})
	if err != nil {
		return nil, err
	}
	var path string
	for _, fs := range sets {
		if fs.Handle == handle {
			path = fs.Paths[registry.PathACDB]
			break
		}
	}
	if path == "" {
		return nil, acdberr.New(component, acdberr.ENOTEXIST)
	}

	f, err := acdbfile.Open(path)
	if err != nil {
		return nil, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	r, err := resolver.Load(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	c.files[handle] = f
	c.resolvers[handle] = r
	return r, nil
}

// Evict closes and drops the cached resolver for handle. Nothing in the
// runtime calls it; removing a database from the registry leaves its
// resolver cached.
func (c *resolverCache) Evict(handle registry.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.files[handle]; ok {
		f.Close()
	}
	delete(c.files, handle)
	delete(c.resolvers, handle)
}
