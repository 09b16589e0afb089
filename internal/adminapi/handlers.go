package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/acdbrt/acdbrt/internal/registry"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealthz reports liveness of the admin surface itself; it does not
// probe the rest of the runtime.
//
//	@Summary	health check
//	@Success	200	{object}	map[string]string
//	@Router		/healthz [get]
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type graphView struct {
	Handle uint64   `json:"handle"`
	State  string   `json:"state"`
	SgIDs  []uint32 `json:"sgIds"`
}

// handleGraphs lists every graph handle currently registered with the
// runtime (spec §5's graph handle list), read-only.
//
//	@Summary	list graphs
//	@Success	200	{array}	graphView
//	@Router		/api/graphs [get]
func (s *Server) handleGraphs(w http.ResponseWriter, r *http.Request) {
	out := []graphView{}
	if s.graphs != nil {
		for _, g := range s.graphs.All() {
			out = append(out, graphView{
				Handle: g.Handle,
				State:  g.State().String(),
				SgIDs:  g.SgIDs(),
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type fileSetView struct {
	Handle int64             `json:"handle"`
	Paths  map[string]string `json:"paths"`
}

// handleFileSets lists registered file sets, optionally narrowed by a
// workspace prefix or shared-subgraph id query parameter.
//
//	@Summary	list registered file sets
//	@Param		workspacePrefix	query	string	false	"workspace path prefix"
//	@Param		sgId			query	int		false	"shared subgraph id"
//	@Success	200	{array}	fileSetView
//	@Router		/api/registry/filesets [get]
func (s *Server) handleFileSets(w http.ResponseWriter, r *http.Request) {
	if s.fileSets == nil {
		writeJSON(w, http.StatusOK, []fileSetView{})
		return
	}

	f := registry.Filter{WorkspacePrefix: r.URL.Query().Get("workspacePrefix")}
	if sg := r.URL.Query().Get("sgId"); sg != "" {
		var id uint32
		for _, c := range sg {
			if c < '0' || c > '9' {
				http.Error(w, "sgId must be numeric", http.StatusBadRequest)
				return
			}
			id = id*10 + uint32(c-'0')
		}
		f.SgID = id
	}

	sets, err := s.fileSets.GetAllFileSets(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]fileSetView, 0, len(sets))
	for _, fs := range sets {
		paths := make(map[string]string, len(fs.Paths))
		for k, v := range fs.Paths {
			paths[string(k)] = v
		}
		out = append(out, fileSetView{Handle: int64(fs.Handle), Paths: paths})
	}
	writeJSON(w, http.StatusOK, out)
}
