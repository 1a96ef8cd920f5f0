// Package webapi implements the web worker's HTTP surface: a health
// check, the economy leaderboard, and static file mounts.
package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"powerbot/internal/economy"
)

// leaderboardCacheTTL bounds how often TopLeaderboard is re-queried;
// without it a chatty client can turn /api/economy/top10 into a
// leaderboard-scan storm.
const leaderboardCacheTTL = time.Second

// NewRouter builds the chi router mounted by the web worker: /health,
// /api/economy/top10, and whatever static directories mounts maps.
func NewRouter(ledger *economy.Ledger, mounts map[string]string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)
	r.Use(chimiddleware.Logger, chimiddleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/api/economy/top10", newLeaderboardHandler(ledger))

	for urlPath, dir := range mounts {
		fileServer(r, urlPath, http.Dir(dir))
	}

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

type leaderboardEntry struct {
	UserID  int64   `json:"user_id"`
	Balance float64 `json:"balance"`
}

// newLeaderboardHandler wraps economy.Ledger.TopLeaderboard with a short
// TTL cache so bursts of polling clients share one underlying query.
func newLeaderboardHandler(ledger *economy.Ledger) http.HandlerFunc {
	cache := newTTLCache(leaderboardCacheTTL, func(ctx context.Context) ([]leaderboardEntry, error) {
		rows, err := ledger.TopLeaderboard(ctx, 10)
		if err != nil {
			return nil, err
		}
		out := make([]leaderboardEntry, len(rows))
		for i, row := range rows {
			out[i] = leaderboardEntry{UserID: row.UserID, Balance: row.Balance}
		}
		return out, nil
	})

	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := cache.get(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"leaderboard": entries})
	}
}

// fileServer mounts a static directory at urlPath, stripping the mount
// prefix before handing the request to http.FileServer.
func fileServer(r chi.Router, urlPath string, root http.FileSystem) {
	handler := http.StripPrefix(urlPath, http.FileServer(root))
	if urlPath != "/" && urlPath[len(urlPath)-1] != '/' {
		r.Get(urlPath, http.RedirectHandler(urlPath+"/", http.StatusMovedPermanently).ServeHTTP)
		urlPath += "/"
	}
	r.Get(urlPath+"*", handler.ServeHTTP)
}
