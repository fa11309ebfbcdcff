// ABOUTME: Assembles the scan pipeline from configuration
// ABOUTME: Wires sources, extractor, CRM validator, scan history, recorder, and stored credentials
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/harperreed/cosell/auth"
	"github.com/harperreed/cosell/charm"
	"github.com/harperreed/cosell/config"
	"github.com/harperreed/cosell/crm"
	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/detect"
	"github.com/harperreed/cosell/extract"
	"github.com/harperreed/cosell/models"
	"github.com/harperreed/cosell/sync"
	"github.com/harperreed/cosell/warehouse"
)

// pipeline is a ready-to-run detector and the collaborators a scan records through.
type pipeline struct {
	detector  *detect.Detector
	recorder  detect.Recorder
	history   *sync.ScanHistory
	kv        *charm.Client
	graphTS   oauth2.TokenSource
	dynamicTS oauth2.TokenSource
	user      string
	warehouse *sql.DB
}

// authorize attaches the stored credentials and acting user to ctx.
func (p *pipeline) authorize(ctx context.Context) context.Context {
	if p.graphTS != nil {
		ctx = auth.WithGraphTokenSource(ctx, p.graphTS)
	}
	if p.dynamicTS != nil {
		ctx = auth.WithDynamicsTokenSource(ctx, p.dynamicTS)
	}
	if p.user != "" {
		ctx = auth.WithPrincipal(ctx, p.user)
	}
	return ctx
}

func (p *pipeline) Close() error {
	if p.warehouse != nil {
		return p.warehouse.Close()
	}
	return nil
}

// refreshHistory pulls other devices' scan history ahead of an incremental
// run when the local copy is older than the stale threshold.
func refreshHistory(kv *charm.Client, now time.Time, logger *zap.Logger) {
	if kv == nil {
		return
	}
	synced, err := kv.SyncIfStale(now)
	if err != nil {
		logger.Warn("failed to refresh scan history", zap.Error(err))
		return
	}
	if synced {
		logger.Info("refreshed stale scan history")
	}
}

// openWarehouse connects once and reuses the connection for both the CRM query and the recorder.
func (p *pipeline) openWarehouse(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if p.warehouse != nil {
		return p.warehouse, nil
	}
	wcfg := cfg.WarehouseConfig()
	wdb, err := warehouse.Open(ctx, &wcfg)
	if err != nil {
		return nil, err
	}
	p.warehouse = wdb
	return wdb, nil
}

// newPipeline builds the detector described by cfg.Scan.
func newPipeline(ctx context.Context, database *sql.DB, cfg *config.Config, logger *zap.Logger) (*pipeline, error) {
	p := &pipeline{user: cfg.Scan.User}

	sources, err := p.buildSources(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	extractor, err := buildExtractor(cfg, logger)
	if err != nil {
		return nil, err
	}

	validator, err := p.buildValidator(ctx, cfg, logger)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	kv, err := charm.GetClient(cfg.KVClientConfig())
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to open scan history store: %w", err)
	}
	p.kv = kv
	p.history = sync.NewScanHistory(kv)

	switch cfg.Scan.Recorder {
	case "fabric":
		wdb, err := p.openWarehouse(ctx, cfg)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.recorder = warehouse.NewRecorder(wdb, cfg.Fabric.Schema, logger)
	default:
		p.recorder = db.NewRecorder(database)
	}

	p.detector = detect.New(detect.Options{
		Sources:     sources,
		Extractor:   extractor,
		Validator:   validator,
		History:     p.history,
		Concurrency: cfg.Scan.Concurrency,
		Logger:      logger,
	})
	return p, nil
}

func (p *pipeline) buildSources(ctx context.Context, cfg *config.Config, logger *zap.Logger) (map[models.SourceType]detect.SourceProvider, error) {
	switch cfg.Scan.SourceProvider {
	case "gmail":
		oauthConfig, err := sync.NewGoogleOAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret)
		if err != nil {
			return nil, err
		}
		token, err := sync.LoadToken(sync.ProviderGoogle)
		if err != nil {
			return nil, fmt.Errorf("not authenticated with google (run 'cosell auth google'): %w", err)
		}
		mail, err := sync.NewGmailService(ctx, oauthConfig, token)
		if err != nil {
			return nil, err
		}
		cal, err := sync.NewCalendarService(ctx, oauthConfig, token)
		if err != nil {
			return nil, err
		}
		return map[models.SourceType]detect.SourceProvider{
			models.SourceEmail:   sync.NewGmailSource(mail, logger),
			models.SourceMeeting: sync.NewCalendarSource(cal, logger),
		}, nil

	default:
		oauthConfig, err := sync.NewMicrosoftOAuthConfig(cfg.Graph.TenantID, cfg.Graph.ClientID, cfg.Graph.ClientSecret, sync.GraphScopes)
		if err != nil {
			return nil, err
		}
		p.graphTS, err = sync.StoredTokenSource(ctx, sync.ProviderMicrosoft, oauthConfig)
		if err != nil {
			return nil, err
		}
		graph := sync.NewGraphSources(sync.NewGraphClient(cfg.GraphClientConfig(), nil, logger), logger)
		return map[models.SourceType]detect.SourceProvider{
			models.SourceEmail:   graph,
			models.SourceChat:    graph,
			models.SourceMeeting: graph,
		}, nil
	}
}

func buildExtractor(cfg *config.Config, logger *zap.Logger) (extract.Extractor, error) {
	if !cfg.LLMEnabled() {
		return extract.NewHeuristicExtractor(), nil
	}
	llm, err := extract.NewLLMExtractor(cfg.ExtractorConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM extractor: %w", err)
	}
	return llm, nil
}

// buildValidator returns nil when no CRM is configured, which skips cross-validation.
func (p *pipeline) buildValidator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*detect.Validator, error) {
	switch cfg.Scan.CRM {
	case "dynamics":
		oauthConfig, err := sync.NewMicrosoftOAuthConfig(cfg.Graph.TenantID, cfg.Graph.ClientID, cfg.Graph.ClientSecret, sync.DynamicsScopes(cfg.Dynamics.URL))
		if err != nil {
			return nil, err
		}
		p.dynamicTS, err = sync.StoredTokenSource(ctx, sync.ProviderDynamics, oauthConfig)
		if err != nil {
			return nil, err
		}
		client, err := crm.NewDynamicsClient(cfg.DynamicsClientConfig(), nil, logger)
		if err != nil {
			return nil, err
		}
		return detect.NewValidator(client, logger), nil

	case "fabric":
		wdb, err := p.openWarehouse(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return detect.NewValidator(warehouse.NewCRMQuery(wdb, cfg.Fabric.Schema), logger), nil

	default:
		return nil, nil
	}
}
