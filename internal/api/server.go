package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"autopublish/internal/automation"
	"autopublish/internal/domain"
	"autopublish/internal/scheduler"
)

const ownerHeader = "X-Owner-ID"

// Automation is the controller surface the HTTP layer drives.
type Automation interface {
	Start() error
	Stop()
	Restart(ctx context.Context) error
	TriggerManualProcessing(ctx context.Context) scheduler.TickResult
	Status(ctx context.Context) (automation.Status, error)

	CreateSchedule(ctx context.Context, ownerID string, in automation.ScheduleInput) (domain.Schedule, error)
	GetSchedule(ctx context.Context, ownerID, id string) (domain.Schedule, error)
	ListSchedules(ctx context.Context, ownerID string) ([]domain.Schedule, error)
	UpdateSchedule(ctx context.Context, ownerID, id string, upd automation.ScheduleUpdate) (domain.Schedule, error)
	DeleteSchedule(ctx context.Context, ownerID, id string) error
	AnalyzeSchedule(ctx context.Context, ownerID, id string) (domain.Schedule, error)
	ListArticles(ctx context.Context, ownerID string, f domain.ArticleFilter) ([]domain.Article, error)
	GetArticle(ctx context.Context, ownerID, id string) (domain.Article, error)
}

type Server struct {
	auto Automation
	log  zerolog.Logger
}

func NewServer(auto Automation, logger zerolog.Logger) http.Handler {
	return NewServerWithDebug(auto, logger, false)
}

func NewServerWithDebug(auto Automation, logger zerolog.Logger, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	s := &Server{auto: auto, log: logger.With().Str("component", "api").Logger()}
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Route("/api", func(r chi.Router) {
		r.Route("/automation", func(r chi.Router) {
			r.Get("/", s.status)
			r.Post("/start", s.start)
			r.Post("/stop", s.stop)
			r.Post("/restart", s.restart)
			r.Post("/trigger", s.trigger)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireOwner)
			r.Post("/schedules", s.createSchedule)
			r.Get("/schedules", s.listSchedules)
			r.Get("/schedules/{id}", s.getSchedule)
			r.Put("/schedules/{id}", s.updateSchedule)
			r.Delete("/schedules/{id}", s.deleteSchedule)
			r.Post("/schedules/{id}/analyze", s.analyzeSchedule)
			r.Get("/articles", s.listArticles)
			r.Get("/articles/{id}", s.getArticle)
		})
	})

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	st, err := s.auto.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	running := 0
	if st.IsRunning {
		running = 1
	}
	sc, pb := st.Stats.Scheduler, st.Stats.Publisher

	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "autopublish_up 1\n")
	fmt.Fprintf(w, "autopublish_scheduler_running %d\n", running)
	fmt.Fprintf(w, "autopublish_active_schedules %d\n", st.ActiveScheduleCount)
	fmt.Fprintf(w, "autopublish_ticks_total %d\n", sc.Ticks)
	fmt.Fprintf(w, "autopublish_ticks_skipped_total %d\n", sc.SkippedTicks)
	fmt.Fprintf(w, "autopublish_articles_generated_total %d\n", sc.Generated)
	fmt.Fprintf(w, "autopublish_generation_failures_total %d\n", sc.GenerationFailed)
	fmt.Fprintf(w, "autopublish_sweeps_total %d\n", pb.Sweeps)
	fmt.Fprintf(w, "autopublish_articles_published_total %d\n", pb.Published)
	fmt.Fprintf(w, "autopublish_publish_failures_total %d\n", pb.Failed)
	for _, status := range []domain.ArticleStatus{
		domain.StatusPending, domain.StatusGenerating, domain.StatusReady,
		domain.StatusPublishing, domain.StatusPublished, domain.StatusFailed,
	} {
		fmt.Fprintf(w, "autopublish_articles{status=%q} %d\n", status, st.Stats.Articles[status])
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.auto.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if err := s.auto.Start(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.status(w, r)
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	s.auto.Stop()
	s.status(w, r)
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	if err := s.auto.Restart(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.status(w, r)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.auto.TriggerManualProcessing(r.Context()))
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req automation.ScheduleInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sch, err := s.auto.CreateSchedule(r.Context(), owner(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sch)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.auto.ListSchedules(r.Context(), owner(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if schedules == nil {
		schedules = []domain.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	sch, err := s.auto.GetSchedule(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var req automation.ScheduleUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sch, err := s.auto.UpdateSchedule(r.Context(), owner(r), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.auto.DeleteSchedule(r.Context(), owner(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) analyzeSchedule(w http.ResponseWriter, r *http.Request) {
	sch, err := s.auto.AnalyzeSchedule(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.ArticleFilter{
		ScheduleID: q.Get("schedule_id"),
		Status:     domain.ArticleStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	articles, err := s.auto.ListArticles(r.Context(), owner(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if articles == nil {
		articles = []domain.Article{}
	}
	writeJSON(w, http.StatusOK, articles)
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	a, err := s.auto.GetArticle(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type ownerKey struct{}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(ownerHeader)
		if id == "" {
			http.Error(w, ownerHeader+" header is required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, id)))
	})
}

func owner(r *http.Request) string {
	id, _ := r.Context().Value(ownerKey{}).(string)
	return id
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPrecondition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAnalysis), errors.Is(err, domain.ErrGeneration), errors.Is(err, domain.ErrPublish):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
