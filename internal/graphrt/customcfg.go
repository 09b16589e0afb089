package graphrt

import "github.com/acdbrt/acdbrt/pkg/acdberr"

// SetTaggedCustomConfig pushes an opaque client-supplied blob for tag,
// bypassing C2 resolution entirely (spec §4.6 set_tagged_custom_config —
// distinct from set_config(tag, TKV), which resolves parameter data from
// the registry).
func (g *Graph) SetTaggedCustomConfig(tag uint32, data []byte) error {
	g.beginClientOp()
	defer g.endClientOp()

	payload := append(appendUint32(nil, tag), data...)
	if err := g.issue(OpCustomCfg, payload); err != nil {
		return err
	}

	g.mu.Lock()
	g.customCfg[tag] = append([]byte(nil), data...)
	g.mu.Unlock()
	return nil
}

// SetTaggedCustomConfigPersist is SetTaggedCustomConfig's persisted variant
// (spec §4.6 set_tagged_custom_config_persist): it issues the persist
// opcode and records the blob in customCfgPersist, apart from the
// non-persist blobs. The graph never re-sends the blob itself, and a closed
// handle cannot be reopened.
func (g *Graph) SetTaggedCustomConfigPersist(tag uint32, data []byte) error {
	g.beginClientOp()
	defer g.endClientOp()

	payload := append(appendUint32(nil, tag), data...)
	if err := g.issue(OpCustomCfgPersist, payload); err != nil {
		return err
	}

	g.mu.Lock()
	g.customCfgPersist[tag] = append([]byte(nil), data...)
	g.mu.Unlock()
	return nil
}

// GetCustomConfig fetches the satellite's current untagged custom-config
// blob (spec §4.6 get_custom_config). The returned bytes, fed back through
// SetTaggedCustomConfig unmodified, leave satellite state unchanged (spec's
// round-trip edge case): this call performs no local resolution, it only
// relays whatever the satellite returns.
func (g *Graph) GetCustomConfig() ([]byte, error) {
	g.beginClientOp()
	defer g.endClientOp()
	return g.issueReply(OpGetCustomCfg, nil)
}

// GetTaggedCustomConfig fetches the satellite's current blob for tag (spec
// §4.6 get_tagged_custom_config). Falls back to the last value this handle
// itself pushed if the satellite has nothing in flight to reply with.
func (g *Graph) GetTaggedCustomConfig(tag uint32) ([]byte, error) {
	g.beginClientOp()
	defer g.endClientOp()

	payload, err := g.issueReply(OpGetTaggedCustomCfg, appendUint32(nil, tag))
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		return payload, nil
	}

	g.mu.Lock()
	cached := g.customCfg[tag]
	g.mu.Unlock()
	return cached, nil
}

// RegisterCustomEvent subscribes this handle to custom module events (spec
// §4.6 register_custom_event). A second registration for the same event id
// is rejected with EALREADY.
func (g *Graph) RegisterCustomEvent(eventID uint32) error {
	g.mu.Lock()
	if g.registeredEvents[eventID] {
		g.mu.Unlock()
		return acdberr.New(component, acdberr.EALREADY)
	}
	g.mu.Unlock()

	g.beginClientOp()
	defer g.endClientOp()

	if err := g.issue(OpRegisterEvent, appendUint32(nil, eventID)); err != nil {
		return err
	}

	g.mu.Lock()
	g.registeredEvents[eventID] = true
	g.mu.Unlock()
	return nil
}
