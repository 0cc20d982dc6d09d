package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/orbitsync/orbit/backend/ratelimit"
)

const (
	defaultShutdownDeadline = 10 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type RoomService interface {
	CreateRoom() (string, error)
}

type RoomResponse struct {
	RoomID string `json:"room_id"`
}

type GenericResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Server struct {
	logger  zerolog.Logger
	svc     RoomService
	limiter *ratelimit.Limiter
	*http.Server
}

type Config struct {
	Logger         *zerolog.Logger
	RoomService    RoomService
	ListenAddr     string
	RateLimitPerIP float64
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:  cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:     cfg.RoomService,
		limiter: ratelimit.New(cfg.RateLimitPerIP),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/", srv.welcome)
	r.Get("/health", srv.health)
	r.Post("/api/room", srv.createRoom)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

// corsMiddleware allows the frontend, served from another origin, to
// call the allocation API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (srv *Server) welcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &GenericResponse{Message: "welcome to orbit"}, &srv.logger)
}

func (srv *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &GenericResponse{Message: "ok"}, &srv.logger)
}

// createRoom allocates a fresh room id. The room starts empty and is
// joined afterwards over the websocket channel.
func (srv *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	if !srv.limiter.Allow(clientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, &GenericResponse{Error: "rate limit exceeded"}, &srv.logger)
		return
	}

	roomID, err := srv.svc.CreateRoom()
	if err != nil {
		srv.logger.Error().Err(err).Msg("room allocation failed")
		writeJSON(w, http.StatusServiceUnavailable, &GenericResponse{Error: "unable to allocate room"}, &srv.logger)
		return
	}

	srv.logger.Debug().Str("roomID", roomID).Msg("room allocated")
	writeJSON(w, http.StatusOK, &RoomResponse{RoomID: roomID}, &srv.logger)
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *zerolog.Logger) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		logger.Error().Err(err).Msg("failed to write response")
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
