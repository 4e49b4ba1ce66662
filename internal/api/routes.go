package api

import "net/http"

func RegisterRoutes(mux *http.ServeMux, h *Handler) http.Handler {
	// Catalog APIs
	mux.HandleFunc("/products/", methods(http.MethodGet, h.GetProduct))
	mux.HandleFunc("/products", methods(http.MethodGet, h.ListProducts))

	// Admin APIs
	mux.HandleFunc("/admin/entities", methods(http.MethodGet, h.ListEntities))
	mux.HandleFunc("/admin/cache", methods(http.MethodDelete, h.InvalidateCache))

	// Observability APIs
	mux.HandleFunc("/metrics", h.GetMetrics)
	mux.HandleFunc("/health", h.GetHealth)

	// Middlewares
	return Chain(
		mux,
		RecoveryMiddleware(h.logger),
		LoggingMiddleware(h.logger),
	)
}

func methods(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}
