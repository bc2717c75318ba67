package middleware

import (
	"net/http"
	"strconv"
)

// RateLimit creates net/http middleware running the admission check on
// every request.
//
//	mux := http.NewServeMux()
//	ev := middleware.NewEvaluator(reg)
//	handler := middleware.RateLimit(ev)(mux)
//
// An admitted request is passed to the next handler; a rejected one gets
// a 403 with the rate limit headers and a JSON body.
func RateLimit(ev *Evaluator) func(http.Handler) http.Handler {
	if ev == nil {
		panic("middleware: Evaluator is required")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := ev.Evaluate(r.Context(), r.URL.Path, r.RemoteAddr, r.Header.Get)
			if decision.Action == Done {
				WriteRejection(w, decision)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteRejection writes the 403 rejection response for a Done decision.
func WriteRejection(w http.ResponseWriter, decision Decision) {
	w.Header().Set(HeaderLimit, strconv.Itoa(decision.Limit))
	w.Header().Set(HeaderRemaining, "0")
	w.Header().Set(HeaderAlgorithm, decision.Algorithm)
	w.Header().Set("Content-Type", RejectionContentType)
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(RejectionBody))
}
