package httpguard

import (
	"encoding/json"
	"net/http"

	"github.com/oarkflow/permit"
)

// CheckHandler answers POSTed CheckRequests with the explained Decision.
// Malformed requests get 400 with the denying decision as body.
func CheckHandler(engine *permit.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req permit.CheckRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		d, err := engine.Check(r.Context(), &req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, d)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// EffectiveHandler lists what the principal in the URL may see. The route
// must declare the {principalID} parameter.
func EffectiveHandler(engine *permit.Engine) http.HandlerFunc {
	principal := FromURLParam("principalID")
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := principal(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		ctx := r.Context()
		roles := engine.Roles(ctx, id)
		codes := make([]string, len(roles))
		for i, role := range roles {
			codes[i] = role.Code
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"principal_id": id,
			"roles":        codes,
			"permissions":  engine.EffectivePermissions(ctx, id),
			"menus":        engine.VisibleMenus(ctx, id),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
