package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) http.Handler {
	r := mux.NewRouter()

	// Root handler
	r.HandleFunc("/", handler.RootHandler).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Health check
	api.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	// Auth
	api.HandleFunc("/auth/login", handler.SignIn).Methods("POST")
	api.HandleFunc("/auth/logout", handler.SignOut).Methods("POST")
	api.HandleFunc("/auth/status", handler.AuthStatus).Methods("GET")
	api.HandleFunc("/auth/refresh", handler.RefreshSession).Methods("POST")

	// Sync engine
	api.HandleFunc("/sync/status", handler.SyncStatus).Methods("GET")
	api.HandleFunc("/sync/trigger", handler.TriggerSync).Methods("POST")

	// Profiles
	api.HandleFunc("/profiles", handler.ListProfiles).Methods("GET")
	api.HandleFunc("/profiles", handler.UpsertProfile).Methods("POST")
	api.HandleFunc("/profiles/{index}", handler.DeleteProfile).Methods("DELETE")
	api.HandleFunc("/profiles/{index}/select", handler.SelectProfile).Methods("POST")
	api.HandleFunc("/profiles/{index}/pin", handler.SetProfilePIN).Methods("PUT")
	api.HandleFunc("/profiles/{index}/pin/check", handler.CheckProfilePIN).Methods("POST")

	// Addons
	api.HandleFunc("/addons", handler.ListAddons).Methods("GET")
	api.HandleFunc("/addons", handler.ReplaceAddons).Methods("PUT")
	api.HandleFunc("/addons", handler.AddAddon).Methods("POST")
	api.HandleFunc("/addons", handler.DeleteAddon).Methods("DELETE")

	// Plugins
	api.HandleFunc("/plugins", handler.ListPlugins).Methods("GET")
	api.HandleFunc("/plugins", handler.ReplacePlugins).Methods("PUT")
	api.HandleFunc("/plugins", handler.UpsertPlugin).Methods("POST")
	api.HandleFunc("/plugins", handler.DeletePlugin).Methods("DELETE")
	api.HandleFunc("/plugins/enabled", handler.SetPluginEnabled).Methods("PUT")

	// Library
	api.HandleFunc("/library", handler.ListLibrary).Methods("GET")
	api.HandleFunc("/library", handler.SaveLibraryItem).Methods("POST")
	api.HandleFunc("/library", handler.DeleteLibraryItem).Methods("DELETE")

	// Progress
	api.HandleFunc("/progress", handler.ListProgress).Methods("GET")
	api.HandleFunc("/progress", handler.SaveProgress).Methods("PUT")
	api.HandleFunc("/progress", handler.DeleteProgress).Methods("DELETE")

	// Watched
	api.HandleFunc("/watched", handler.ListWatched).Methods("GET")
	api.HandleFunc("/watched", handler.SaveWatched).Methods("POST")
	api.HandleFunc("/watched", handler.DeleteWatched).Methods("DELETE")

	// Enable CORS
	r.Use(corsMiddleware)

	// Logging middleware
	r.Use(loggingMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
