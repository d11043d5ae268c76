package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/octantbim/octant/pkg/api"
	"github.com/octantbim/octant/pkg/api/render"
	"github.com/octantbim/octant/pkg/audit"
	"github.com/octantbim/octant/pkg/blob"
	"github.com/octantbim/octant/pkg/catalog"
	"github.com/octantbim/octant/pkg/config"
	"github.com/octantbim/octant/pkg/logger"
	"github.com/octantbim/octant/pkg/oauth"
	"github.com/octantbim/octant/pkg/pat"
	"github.com/octantbim/octant/pkg/processing"
	"github.com/octantbim/octant/pkg/queue"
	"github.com/octantbim/octant/pkg/ratelimit"
	"github.com/octantbim/octant/pkg/roles"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/store/sqlite"
	"github.com/octantbim/octant/pkg/upload"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the octant API server and processing worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveCmdFunc(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a config file (optional)")
	return cmd
}

func serveCmdFunc(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warnf("closing database: %v", err)
		}
	}()

	blobs, err := blob.NewFilesystemStore(cfg.BlobRoot)
	if err != nil {
		return err
	}

	recorder := audit.NewRecorder(db)
	checker := roles.NewChecker(db)
	issuer := oauth.NewTokenIssuer([]byte(cfg.SigningKey), cfg.Issuer, cfg.AccessTokenTTL, db)
	appsSvc := oauth.NewService(db, recorder)
	patsSvc := pat.NewService(db, recorder)

	uploads := upload.NewService(db, blobs, cfg.MaxFileSizeBytes, cfg.UploadSessionTTL)
	if bps := cfg.UploadIngressBytesPerSecond; bps > 0 {
		uploads.SetIngressLimit(rate.NewLimiter(rate.Limit(bps), bps))
	}

	jobs := queue.NewMemoryQueue(cfg.QueueCapacity)
	files := catalog.NewService(db, blobs, jobs)

	worker := queue.NewWorker(jobs, queue.NewTracker(), db, cfg.WorkerConcurrency)
	worker.Register(processing.JobTypeProcessIfc,
		processing.NewProcessor(db, blobs, processing.PassthroughGeometry, processing.NoopExtractor))

	authenticator := scopes.NewAuthenticator(issuer, patsSvc, render.Error)

	deps := api.Deps{
		Store:         db,
		Blobs:         blobs,
		Checker:       checker,
		Audit:         recorder,
		Issuer:        issuer,
		Apps:          appsSvc,
		PATs:          patsSvc,
		Uploads:       uploads,
		Catalog:       files,
		Authenticator: authenticator,
		Limiter:       ratelimit.NewLimiter(),
		RefreshTTL:    cfg.RefreshTokenTTL,
		Policies:      cfg.RateLimits(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		return api.Serve(ctx, cfg.Address, deps)
	})

	return g.Wait()
}
