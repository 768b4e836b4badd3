// Archiver drains resolved suspensions from the journal into object storage.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentictrust/actiongate/pkg/archive"
	"github.com/agentictrust/actiongate/pkg/config"
	"github.com/agentictrust/actiongate/pkg/suspend"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type minioUploader struct {
	client *minio.Client
	bucket string
}

func (m minioUploader) Upload(ctx context.Context, key string, body []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	minioClient, err := minio.New(config.EnvOr("ARCHIVE_S3_ENDPOINT", "localhost:9000"), &minio.Options{
		Creds:  credentials.NewStaticV4(config.EnvOr("ARCHIVE_S3_ACCESS_KEY", "minioadmin"), config.EnvOr("ARCHIVE_S3_SECRET_KEY", "minioadmin"), ""),
		Secure: config.EnvOrBool("ARCHIVE_S3_SECURE", false),
	})
	if err != nil {
		log.Error("minio init failed", "error", err)
		os.Exit(1)
	}

	svc := archive.New(
		suspend.NewPgJournal(pool),
		minioUploader{
			client: minioClient,
			bucket: config.EnvOr("ARCHIVE_S3_BUCKET", "actiongate-calls"),
		},
		time.Duration(config.EnvOrInt("ARCHIVE_MIN_AGE_HOURS", 24))*time.Hour,
		log,
	)

	runOnce := config.EnvOrBool("ARCHIVER_RUN_ONCE", true)
	interval := time.Duration(config.EnvOrInt("ARCHIVER_INTERVAL_SEC", 300)) * time.Second

	run := func() {
		for {
			key, err := svc.RunOnce(ctx)
			if err != nil {
				log.Error("archive run failed", "error", err)
				return
			}
			if key == "" {
				return
			}
			log.Info("archived bundle", "key", key)
		}
	}

	run()
	if runOnce {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
