package datacache

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// DebugResponse is the body of GET /debug/caches
type DebugResponse struct {
	Owner        string       `json:"owner"`
	Entities     int          `json:"entities"`
	Budget       int          `json:"budget"`
	DroppedTicks int64        `json:"droppedTicks"`
	Caches       []DebugCache `json:"caches"`
}

// DebugCache describes one cache in the debug response
type DebugCache struct {
	Name     string      `json:"name"`
	Store    string      `json:"store"`
	Admitted []int64     `json:"admitted"`
	Stats    *DebugStats `json:"stats"`
}

// DebugStats represents cache statistics in the debug response
type DebugStats struct {
	Loads        int64 `json:"loads"`
	Rejections   int64 `json:"rejections"`
	Takeovers    int64 `json:"takeovers"`
	Releases     int64 `json:"releases"`
	Autosaves    int64 `json:"autosaves"`
	SaveFailures int64 `json:"saveFailures"`
	Conflicts    int64 `json:"conflicts"`
	Wipes        int64 `json:"wipes"`
	Kicks        int64 `json:"kicks"`
	Deferrals    int64 `json:"deferrals"`
	StoreReads   int64 `json:"storeReads"`
	StoreWrites  int64 `json:"storeWrites"`
}

func newDebugStats(s *Stats) *DebugStats {
	return &DebugStats{
		Loads:        s.Loads(),
		Rejections:   s.Rejections(),
		Takeovers:    s.Takeovers(),
		Releases:     s.Releases(),
		Autosaves:    s.Autosaves(),
		SaveFailures: s.SaveFailures(),
		Conflicts:    s.Conflicts(),
		Wipes:        s.Wipes(),
		Kicks:        s.Kicks(),
		Deferrals:    s.Deferrals(),
		StoreReads:   s.StoreReads(),
		StoreWrites:  s.StoreWrites(),
	}
}

// Handler returns the registry's HTTP endpoints:
//   - GET /debug/caches - statistics of every cache
//   - GET /client/:endpoint/:cache - the requesting entity's own data, for
//     caches created with ClientRead
func (r *Registry) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/debug/caches", r.serveDebug)
	router.GET("/client/:endpoint/:cache", r.serveClientRead)
	return router
}

func (r *Registry) serveDebug(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	response := DebugResponse{
		Owner:        r.opts.OwnerID,
		Entities:     r.Entities(),
		Budget:       r.Budget(),
		DroppedTicks: r.DroppedTicks(),
	}
	for _, c := range r.Caches() {
		response.Caches = append(response.Caches, DebugCache{
			Name:     c.name,
			Store:    c.config.StoreType.String(),
			Admitted: c.Admitted(),
			Stats:    newDebugStats(c.stats),
		})
	}
	writeJSON(w, response)
}

func (r *Registry) serveClientRead(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	c, ok := r.Cache(ps.ByName("cache"))
	if !ok || !c.config.ClientRead || c.config.ClientReadEndpoint != ps.ByName("endpoint") {
		http.NotFound(w, req)
		return
	}

	id, ok := r.opts.Identify(req)
	if !ok {
		http.Error(w, "Unknown entity", http.StatusUnauthorized)
		return
	}

	e := c.lookup(id)
	if e == nil {
		http.NotFound(w, req)
		return
	}

	writeJSON(w, e.Record().Data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode JSON response", http.StatusInternalServerError)
	}
}
