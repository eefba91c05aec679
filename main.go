package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfg "github.com/example/keyauth/internal/config"
	"github.com/gorilla/mux"
	_ "modernc.org/sqlite"
)

type App struct {
	DB         DB
	Sessions   *SessionManager
	throttle   *ClientThrottle
	corsOrigin string
}

func NewApp(db DB, sessions *SessionManager, throttle *ClientThrottle, corsOrigin string) *App {
	return &App{DB: db, Sessions: sessions, throttle: throttle, corsOrigin: corsOrigin}
}

// Shutdown releases the store connection. Called by the hosting process
// after the HTTP server has drained.
func (a *App) Shutdown(ctx context.Context) error {
	if closer, ok := a.DB.(interface{ close() error }); ok {
		return closer.close()
	}
	return nil
}

// Router builds the full route tree with the middleware chain applied.
func (a *App) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(a.Logging)
	r.Use(a.CORS)

	// Health check endpoints (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p, ok := a.DB.(interface{ ping() bool }); ok {
			if !p.ping() {
				w.WriteHeader(503)
				w.Write([]byte(`{"ready":false}`))
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"ready":true}`))
	}).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()

	// Credential endpoints, throttled
	auth := v1.PathPrefix("/auth").Subrouter()
	auth.Use(a.Throttle)
	auth.HandleFunc("/signup", a.HandleSignup).Methods("POST")
	auth.HandleFunc("/signin", a.HandleSignin).Methods("POST")
	auth.HandleFunc("/refresh", a.HandleRefresh).Methods("POST")

	// Protected endpoints
	v1.Handle("/auth/signout", a.Authenticate(http.HandlerFunc(a.HandleSignout))).Methods("DELETE")
	v1.Handle("/me", a.Authenticate(http.HandlerFunc(a.HandleMe))).Methods("GET")

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

func main() {
	c, err := cfg.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db DB
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			log.Fatalf("sqlite init: %v", err)
		}
		db = s
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			log.Fatalf("postgres config error: %v", err)
		}
		log.Println("Applying database migrations...")
		if err := ApplyMigrations("./migrations", dsn); err != nil {
			log.Fatalf("migrations: %v", err)
		}
		p, err := NewPostgresDB(dsn)
		if err != nil {
			log.Fatalf("postgres init: %v", err)
		}
		db = p
		log.Println("Connected to PostgreSQL database")
	case "memory":
		log.Println("Using in-memory database (not recommended for production)")
		db = NewMemoryDB()
	default:
		log.Fatalf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	codec := NewTokenCodec([]byte(c.JwtSecret), c.TokenIssuer, c.TokenAudience)
	sessions := NewSessionManager(db, codec,
		time.Duration(c.AccessTokenValiditySec)*time.Second,
		time.Duration(c.RefreshTokenValiditySec)*time.Second,
	)
	app := NewApp(db, sessions, NewClientThrottle(c.SigninLimitPerMinute), c.CORSOrigin)

	srv := &http.Server{Handler: app.Router(), Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		fmt.Println("Starting keyauth server on", c.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown failed: %+v", err)
	}
	if err := app.Shutdown(ctx); err != nil {
		log.Printf("store close: %v", err)
	}
	fmt.Println("Server exited properly")
}
