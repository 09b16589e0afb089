package graphrt

import (
	"github.com/acdbrt/acdbrt/internal/datapath"
	"github.com/acdbrt/acdbrt/internal/externmem"
	"github.com/acdbrt/acdbrt/pkg/acdberr"
)

// SetDataPaths binds the read and write datapath engines a dispatcher has
// wired for this graph's handle; either may be nil if that direction is
// unused (spec §4.7 "a graph owns two data paths").
func (g *Graph) SetDataPaths(read, write *datapath.Engine) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.readEngine = read
	g.writeEngine = write
}

// ConfigureReadParams applies cfg to the read engine (spec §4.6
// configure_read_params). Reapplying the identical configuration is a no-op
// returning EOK rather than EALREADY, matching configure_write_params'
// symmetric edge case.
func (g *Graph) ConfigureReadParams(cfg datapath.Config) error {
	g.mu.Lock()
	eng := g.readEngine
	same := g.readCfg != nil && *g.readCfg == cfg
	g.mu.Unlock()
	if eng == nil {
		return acdberr.New(component, acdberr.ENOTEXIST)
	}
	if same {
		return nil
	}
	if err := eng.Configure(cfg); err != nil {
		return err
	}
	g.mu.Lock()
	g.readCfg = &cfg
	g.mu.Unlock()
	return nil
}

// ConfigureWriteParams applies cfg to the write engine (spec §4.6
// configure_write_params).
func (g *Graph) ConfigureWriteParams(cfg datapath.Config) error {
	g.mu.Lock()
	eng := g.writeEngine
	same := g.writeCfg != nil && *g.writeCfg == cfg
	g.mu.Unlock()
	if eng == nil {
		return acdberr.New(component, acdberr.ENOTEXIST)
	}
	if same {
		return nil
	}
	if err := eng.Configure(cfg); err != nil {
		return err
	}
	g.mu.Lock()
	g.writeCfg = &cfg
	g.mu.Unlock()
	return nil
}

// Read pulls the next rendered buffer off the read engine (spec §4.6 read).
func (g *Graph) Read() ([]byte, datapath.MetadataEntry, error) {
	g.mu.Lock()
	eng := g.readEngine
	g.mu.Unlock()
	if eng == nil {
		return nil, datapath.MetadataEntry{}, acdberr.New(component, acdberr.ENOTEXIST)
	}
	return eng.Read()
}

// Write pushes payload onto the write engine, optionally marking eos (spec
// §4.6 write / eos).
func (g *Graph) Write(payload []byte, eos bool) (uint32, error) {
	g.mu.Lock()
	eng := g.writeEngine
	g.mu.Unlock()
	if eng == nil {
		return 0, acdberr.New(component, acdberr.ENOTEXIST)
	}
	return eng.Write(payload, eos)
}

// WriteExtern pushes a client-supplied external allocation onto the write
// engine in EXTERN_MEM mode (spec §4.6 write, EXTERN_MEM variant).
func (g *Graph) WriteExtern(key externmem.AllocKey, eos bool) (uint32, error) {
	g.mu.Lock()
	eng := g.writeEngine
	g.mu.Unlock()
	if eng == nil {
		return 0, acdberr.New(component, acdberr.ENOTEXIST)
	}
	return eng.WriteExtern(key, eos)
}

// Eos reports the render status of the most recently flushed write EOS
// (spec §4.6 eos).
func (g *Graph) Eos() (datapath.RenderStatus, error) {
	g.mu.Lock()
	eng := g.writeEngine
	g.mu.Unlock()
	if eng == nil {
		return 0, acdberr.New(component, acdberr.ENOTEXIST)
	}
	return eng.LastEOSStatus(), nil
}
