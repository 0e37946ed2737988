package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/alexedwards/scs/pgxstore"
	scs "github.com/alexedwards/scs/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/clearnexus/nexdash/cache"
	"github.com/clearnexus/nexdash/internal/auth"
	"github.com/clearnexus/nexdash/internal/config"
	"github.com/clearnexus/nexdash/internal/email"
	"github.com/clearnexus/nexdash/internal/http/routes"
	"github.com/clearnexus/nexdash/internal/physnexus"
	"github.com/clearnexus/nexdash/internal/registrations"
	"github.com/clearnexus/nexdash/nexus"
	"github.com/clearnexus/nexdash/querycache"

	"github.com/hibiken/asynq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Printf("starting api on :%s", cfg.Port)

	// Session store (holds per-user pending exemption edits)
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer pool.Close()

	sess := scs.New()
	sess.Store = pgxstore.New(pool)
	sess.Lifetime = 12 * time.Hour
	sess.Cookie.HttpOnly = true
	sess.Cookie.SameSite = http.SameSiteLaxMode
	sess.Cookie.Secure = false

	// Engine client
	engineOpts := []nexus.Option{
		nexus.WithBaseURL(cfg.Engine.BaseURL),
		nexus.WithCache(cache.NewMemoryCache(), cfg.Engine.CacheTTL),
	}
	if cfg.HasEngineAuth() {
		cc := clientcredentials.Config{
			ClientID:     cfg.Engine.ClientID,
			ClientSecret: cfg.Engine.ClientSecret,
			TokenURL:     cfg.Engine.TokenURL,
		}
		engineOpts = append(engineOpts, nexus.WithTokenSource(cc.TokenSource(context.Background())))
	}
	engine := nexus.New(engineOpts...)

	// Query cache + services
	store := querycache.NewStore()
	regs := registrations.NewService(engine, store, logger)

	queue := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if closeErr := queue.Close(); closeErr != nil {
			log.Printf("Error closing asynq client: %v", closeErr)
		}
	}()
	phys := physnexus.NewManager(engine, store, queue, logger)

	// Mail sender for report delivery
	var sender email.Sender = email.StdoutSender{}
	if cfg.HasSMTP() {
		sender = email.NewSMTPSender(cfg.SMTPAddr, cfg.EmailFrom)
	}

	// Router / server
	s := routes.New(routes.ServerOptions{
		Sess:    sess,
		Engine:  engine,
		Store:   store,
		Regs:    regs,
		Phys:    phys,
		Share:   auth.ShareLink{Secret: []byte(cfg.ShareSecret), BaseURL: cfg.BaseURL},
		Email:   sender,
		BaseURL: cfg.BaseURL,
		Log:     logger,
	})
	h := hlog.NewHandler(logger)(s.Router)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: sess.LoadAndSave(h)}
	log.Fatal(srv.ListenAndServe())
}
