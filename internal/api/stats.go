package api

import "net/http"

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.db.GetStats(r.Context())
	if err != nil {
		internalError(w, r, "loading stats", err)
		return
	}
	w.Header().Set("Cache-Control", "public, s-maxage=60, stale-while-revalidate=300")
	jsonOK(w, http.StatusOK, st)
}

// handleGrowth returns daily snapshots, oldest first.
func (a *API) handleGrowth(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	series, err := a.db.GetGrowth(r.Context(), days)
	if err != nil {
		internalError(w, r, "loading growth", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"days": len(series), "series": series})
}
