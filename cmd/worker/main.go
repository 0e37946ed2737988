package main

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/clearnexus/nexdash/cache"
	"github.com/clearnexus/nexdash/internal/config"
	"github.com/clearnexus/nexdash/internal/jobs"
	"github.com/clearnexus/nexdash/internal/physnexus"
	"github.com/clearnexus/nexdash/nexus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	engine := newEngineClient(cfg)

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency:    8,
		StrictPriority: false,
		Queues: map[string]int{
			"side-effects": 10, // higher priority
			"default":      5,  // default priority
		},
	})
	mux := asynq.NewServeMux()

	mux.HandleFunc(jobs.TaskSyncProfileStates, func(ctx context.Context, t *asynq.Task) error {
		var p jobs.SyncProfileStatesPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			log.Printf("[asynq] bad payload: %v", err)
			return err
		}
		log.Printf("[sync] start client=%s state=%s type=%s", p.ClientID, p.StateCode, p.NexusType)
		start := time.Now()
		err := physnexus.SyncProfileStates(ctx, engine, p.ClientID, p.StateCode, p.NexusType)
		duration := time.Since(start)

		if err != nil {
			if isRetryableError(err) {
				log.Printf("[sync] retryable error client=%s duration=%v: %v", p.ClientID, duration, err)
				return err // allow retry
			}
			log.Printf("[sync] permanent error client=%s duration=%v: %v (dropping job)", p.ClientID, duration, err)
			return nil // don't retry permanent failures
		}
		log.Printf("[sync] done client=%s duration=%v", p.ClientID, duration)
		return nil
	})

	mux.HandleFunc(jobs.TaskActivityNote, func(ctx context.Context, t *asynq.Task) error {
		var p jobs.ActivityNotePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			log.Printf("[asynq] bad payload: %v", err)
			return err
		}
		err := physnexus.AppendNote(ctx, engine, p.ClientID, p.AnalysisID, p.Message, p.IncludeLiability)
		if err != nil {
			if isRetryableError(err) {
				log.Printf("[note] retryable error client=%s: %v", p.ClientID, err)
				return err
			}
			log.Printf("[note] permanent error client=%s: %v (dropping job)", p.ClientID, err)
			return nil
		}
		log.Printf("[note] done client=%s", p.ClientID)
		return nil
	})

	log.Println("Worker running...")
	log.Fatal(srv.Run(mux))
}

func newEngineClient(cfg *config.Config) *nexus.Client {
	opts := []nexus.Option{nexus.WithBaseURL(cfg.Engine.BaseURL)}

	// A file cache keeps engine reads warm across worker restarts.
	if fc, err := cache.NewEngineCache(); err == nil {
		opts = append(opts, nexus.WithCache(fc, cfg.Engine.CacheTTL))
	} else {
		log.Printf("engine cache unavailable: %v", err)
	}

	if cfg.HasEngineAuth() {
		cc := clientcredentials.Config{
			ClientID:     cfg.Engine.ClientID,
			ClientSecret: cfg.Engine.ClientSecret,
			TokenURL:     cfg.Engine.TokenURL,
		}
		opts = append(opts, nexus.WithTokenSource(cc.TokenSource(context.Background())))
	}
	return nexus.New(opts...)
}

// isRetryableError determines if an error should trigger a job retry
func isRetryableError(err error) bool {
	errStr := strings.ToLower(err.Error())

	// Network/connectivity issues - should retry
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") {
		return true
	}

	// Engine rate limiting - should retry later
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") {
		return true
	}

	// Temporary server errors - should retry
	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return true
	}

	// Everything else (bad ids, validation failures, etc.) - don't retry
	return false
}
