package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const maxClinicIDLen = 64

// requireClinicID rejects clinic-scoped requests whose {clinicID} segment is blank
// or malformed.
func requireClinicID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clinicID := strings.TrimSpace(chi.URLParam(r, "clinicID"))
		if clinicID == "" || len(clinicID) > maxClinicIDLen || strings.ContainsAny(clinicID, " /:") {
			http.Error(w, "invalid clinic id", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}
