package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/audiencebox/docstore"
	"github.com/Seednode/audiencebox/docstore/sqlite"
	"github.com/Seednode/audiencebox/engine"
	"github.com/Seednode/audiencebox/identity"
	"github.com/Seednode/audiencebox/live"
	"github.com/Seednode/audiencebox/presets"
	"github.com/Seednode/audiencebox/tally"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

// server holds everything the HTTP handlers share.
type server struct {
	cfg     *Config
	log     logrus.FieldLogger
	docs    docstore.Store
	issuer  *identity.Issuer
	presets *presets.Store
	engine  *engine.Engine
	tally   *tally.Aggregator
	live    *live.Manager
}

func newServer(ctx context.Context, cfg *Config, docs docstore.Store, issuer *identity.Issuer, log logrus.FieldLogger) *server {
	ps := presets.New(docs)
	eng := engine.New(docs, ps, log)
	agg := tally.New(docs, eng, ps)

	return &server{
		cfg:     cfg,
		log:     log,
		docs:    docs,
		issuer:  issuer,
		presets: ps,
		engine:  eng,
		tally:   agg,
		live: live.NewManager(ctx, live.Deps{
			Engine:  eng,
			Presets: ps,
			Tally:   agg,
			Log:     log,
		}, cfg.sessionTimeout),
	}
}

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

// logged wraps h with the security headers and a per-request debug line.
func (s *server) logged(name string, h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		securityHeaders(s.cfg, w)

		sw := &sizeWriter{ResponseWriter: w}
		h(sw, r, ps)

		s.log.Debugf("SERVE: %s (%d, %s) to %s in %s",
			name,
			sw.status,
			humanReadableSize(sw.written),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func (s *server) serveVersion(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	_, _ = io.WriteString(w, "audiencebox v"+releaseVersion+"\n")
}

func (s *server) routes() *httprouter.Router {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		s.log.WithField("panic", i).Error("SERVE: recovered from panic")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(s.cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		_, _ = io.WriteString(w, newPage("Server Error", "An error has occurred. Please try again."))
	}

	prefix := strings.TrimSuffix(s.cfg.prefix, "/")

	mux.GET(prefix+"/", s.logged("Home page", s.serveHomePage))
	mux.GET(prefix+"/healthz", s.logged("Health check", s.serveHealthCheck))
	mux.GET(prefix+"/robots.txt", s.logged("Robots", s.serveRobots))
	mux.GET(prefix+"/version", s.logged("Version page", s.serveVersion))

	if s.cfg.profile {
		registerProfileHandlers(s.cfg, s.log, mux)
	}

	s.registerPresetAPI(prefix, mux)
	s.registerSessionAPI(prefix, mux)
	s.registerLive(prefix, mux)

	return mux
}

func openStore(cfg *Config) (docstore.Store, error) {
	if cfg.dbPath == "" {
		return docstore.NewMemory(), nil
	}

	store, err := sqlite.Open(cfg.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.dbPath, err)
	}
	return store, nil
}

func ServePage(ctx context.Context, cfg *Config) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	log := newLogger(cfg, os.Stderr)

	log.Infof("START: audiencebox v%s", releaseVersion)

	issuer, err := identity.NewIssuer(cfg.jwtSecret, cfg.tokenTTL)
	if err != nil {
		return err
	}

	docs, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer docs.Close()

	if cfg.dbPath == "" {
		log.Warn("START: no --db given, documents are kept in memory only")
	} else {
		log.Infof("START: using database %s", cfg.dbPath)
	}

	g, gctx := errgroup.WithContext(ctx)

	s := newServer(gctx, cfg, docs, issuer, log)
	defer s.live.Close()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           s.routes(),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	g.Go(func() error {
		log.Infof("SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)

		var err error
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		log.Info("STOP: shutting down")

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
