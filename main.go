package main

import (
	"context"
	"log"

	"mp4probe/config"
	"mp4probe/httpServer"
	"mp4probe/internal/auth"
	"mp4probe/internal/metrics"
	"mp4probe/internal/sessions"
	"mp4probe/internal/storage"
)

func main() {
	log.Println("Starting mp4probe server...")

	cfg := config.Load()
	log.Printf("HTTP Server: %s", cfg.HTTPAddr)
	log.Printf("Storage type: %s", cfg.StorageType)

	// The local source is required whenever STORAGE_TYPE=local, or
	// whenever no GCS bucket is configured to fall back on; otherwise a
	// missing/absent local directory is just a backend the caller won't
	// be able to select, not a reason to refuse to start.
	localRequired := cfg.StorageType != "gcs" || cfg.GCSBucketName == ""

	var localSource storage.Source
	if local, err := storage.NewLocalSource(cfg.StorageDir); err != nil {
		if localRequired {
			log.Fatalf("Failed to initialize local storage: %v", err)
		}
		log.Printf("Local storage not available (%v); continuing with GCS only", err)
	} else {
		localSource = local
		log.Printf("Local storage initialized: directory=%s", cfg.StorageDir)
	}

	var gcsSource storage.Source
	if cfg.StorageType == "gcs" {
		if cfg.GCSBucketName == "" {
			log.Fatal("GCS_BUCKET_NAME must be set when STORAGE_TYPE=gcs")
		}
		ctx := context.Background()
		gcs, err := storage.NewGCSSource(ctx, cfg.GCSBucketName, cfg.GCSBaseDir)
		if err != nil {
			log.Fatalf("Failed to initialize GCS storage: %v", err)
		}
		gcsSource = gcs
		log.Printf("GCS storage initialized: bucket=%s, baseDir=%s", cfg.GCSBucketName, cfg.GCSBaseDir)
	}

	m := metrics.New()
	log.Println("Prometheus metrics initialized")

	sessionMgr := sessions.New(cfg.SessionIdleTTL)
	authMgr := auth.New(cfg.DefaultTokenExpiration, cfg.MaxTokenExpiration)
	log.Println("Session manager and auth manager initialized")

	httpSrv := httpServer.New(sessionMgr, authMgr, m, localSource, gcsSource)
	log.Printf("HTTP server ready to start on %s", cfg.HTTPAddr)

	log.Println("mp4probe server started successfully")
	log.Println("---")
	log.Println("API Endpoints:")
	log.Println("  GET    /api/ping")
	log.Println("  POST   /api/v1/tokens")
	log.Println("  POST   /api/v1/probe")
	log.Println("  GET    /api/v1/sessions")
	log.Println("  GET    /api/v1/sessions/:id/sample")
	log.Println("  GET    /api/v1/sessions/:id/gops")
	log.Println("  DELETE /api/v1/sessions/:id")
	log.Println("  GET    /metrics")
	log.Println("---")

	if err := httpSrv.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
