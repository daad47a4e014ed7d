// Package app wires every component the CLI commands need: the storage
// gateway, the source/stream registry, the transform catalog, the
// scheduler, and the HTTP surface, all built from one resolved
// platform/config.Config (spec §4.1's single wiring point).
package app

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/httpapi"
	"github.com/fernfall/dayline/internal/httpapi/auth"
	"github.com/fernfall/dayline/internal/ingest"
	"github.com/fernfall/dayline/internal/oauthclient"
	"github.com/fernfall/dayline/internal/objectstore"
	"github.com/fernfall/dayline/internal/pairing"
	"github.com/fernfall/dayline/internal/platform/config"
	"github.com/fernfall/dayline/internal/platform/logging"
	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/scheduler"
	"github.com/fernfall/dayline/internal/storage"
	"github.com/fernfall/dayline/internal/storage/postgres"
	"github.com/fernfall/dayline/internal/streamdriver/google"
	"github.com/fernfall/dayline/internal/streamdriver/ios"
	"github.com/fernfall/dayline/internal/streamdriver/notion"
	"github.com/fernfall/dayline/internal/transform"
)

// App bundles every wired component a CLI command or the HTTP server needs.
type App struct {
	Config    config.Config
	Gateway   storage.Gateway
	Registry  *registry.Registry
	Catalog   *transform.Catalog
	Scheduler *scheduler.Scheduler
	HTTP      *httpapi.Server
	Log       *logging.Logger

	db        *postgres.Store
	redisConn *redis.Client
}

// New builds the fully wired application from cfg. postAuthURL is where the
// browser lands after a successful OAuth connect (spec §6).
func New(cfg config.Config, log *logging.Logger, postAuthURL, redirectURL string) (*App, error) {
	store, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	gw := storage.Gateway(store)

	a := &App{Config: cfg, Gateway: gw, Log: log, db: store}

	a.Registry = registry.New()
	a.Scheduler = scheduler.New(gw, log, cfg.WorkerPoolSize)

	a.wireGoogle(gw)
	a.wireNotion(gw)
	a.wireIOS()

	a.Catalog = buildCatalog()
	a.Scheduler.Attach(a.Registry, a.Catalog)

	var pairingCodes pairing.CodeStore
	var oauthStates oauthclient.StateStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redisConn = redis.NewClient(opts)
		pairingCodes = pairing.NewRedisCodeStore(a.redisConn)
		oauthStates = oauthclient.NewRedisStateStore(a.redisConn)
	} else {
		pairingCodes = pairing.NewMemoryCodeStore()
		oauthStates = oauthclient.NewMemoryStateStore()
	}

	pairingSvc := pairing.New(pairingCodes, gw, gw, cfg.PairingCodeTTL)

	var objects *objectstore.Client
	if cfg.ObjectStoreEndpoint != "" {
		objects = objectstore.New(objectstore.Config{
			Endpoint:  cfg.ObjectStoreEndpoint,
			Bucket:    cfg.ObjectStoreBucket,
			AccessKey: cfg.ObjectStoreAccessKey,
			SecretKey: cfg.ObjectStoreSecretKey,
		})
	}

	ingestSvc := ingest.New(gw, a.Registry, pairingSvc, objects, a.Scheduler.EnqueueTransforms)

	creds := map[string]oauthclient.ProviderCredential{}
	for kind, c := range cfg.ProviderCredentials {
		creds[kind] = oauthclient.ProviderCredential{ClientID: c.ClientID, ClientSecret: c.ClientSecret}
	}
	flow := oauthclient.NewFlow(a.Registry, gw, creds, oauthStates, redirectURL, postAuthURL)

	sessions := auth.NewSessionManager(cfg.JWTSigningKey, 24*time.Hour)

	a.HTTP = httpapi.New(httpapi.Config{
		Gateway:     gw,
		Registry:    a.Registry,
		Ingest:      ingestSvc,
		Pairing:     pairingSvc,
		OAuth:       flow,
		Scheduler:   a.Scheduler,
		Sessions:    sessions,
		Log:         log,
		PostAuthURL: postAuthURL,
	})

	return a, nil
}

// Close releases the database and redis connections.
func (a *App) Close() error {
	if a.redisConn != nil {
		_ = a.redisConn.Close()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// credentialStore adapts storage.Gateway's UpdateCredentials to the
// oauthclient.CredentialStore method name.
type credentialStore struct{ gw storage.Gateway }

func (c credentialStore) SaveCredentials(ctx context.Context, sourceID string, creds domain.Credentials) error {
	return c.gw.UpdateCredentials(ctx, sourceID, creds)
}

func (a *App) wireGoogle(gw storage.Gateway) {
	cred := a.Config.ProviderCredentials["google"]
	exchanger := google.NewExchanger(google.Config{ClientID: cred.ClientID, ClientSecret: cred.ClientSecret})
	client := oauthclient.New(a.Log, google.ErrorHandler{}, exchanger, credentialStore{gw}, nil)

	gmailDeps := google.Deps{
		Client:    client,
		Writer:    gw,
		Cursors:   gw,
		Enqueue:   a.Scheduler.EnqueueTransforms,
		SourceTab: registry.StreamTableName("google", "gmail"),
	}
	calendarDeps := google.Deps{
		Client:    client,
		Writer:    gw,
		Cursors:   gw,
		Enqueue:   a.Scheduler.EnqueueTransforms,
		SourceTab: registry.StreamTableName("google", "calendar"),
	}

	a.Registry.Register(registry.SourceKind{
		Name:        "google",
		DisplayName: "Google",
		Auth:        domain.AuthOAuth,
		OAuth: registry.OAuthEndpoints{
			AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:     google.TokenURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.readonly",
				"https://www.googleapis.com/auth/calendar.readonly",
			},
		},
		Streams: map[string]registry.StreamKind{
			"gmail": {
				Name:               "gmail",
				DefaultCadence:     "*/15 * * * *",
				BackfillWindowDays: 30,
				TargetTables:       []string{"social_email"},
				NewStream:          google.NewGmailStream(gmailDeps),
			},
			"calendar": {
				Name:               "calendar",
				DefaultCadence:     "*/15 * * * *",
				BackfillWindowDays: 30,
				TargetTables:       []string{"activity_calendar_entry", "social_interaction"},
				NewStream:          google.NewCalendarStream(calendarDeps),
			},
		},
	})
}

func (a *App) wireNotion(gw storage.Gateway) {
	cred := a.Config.ProviderCredentials["notion"]
	exchanger := notion.NewExchanger(notion.Config{ClientID: cred.ClientID, ClientSecret: cred.ClientSecret})
	client := oauthclient.New(a.Log, notion.ErrorHandler{}, exchanger, credentialStore{gw}, nil)

	a.Registry.Register(registry.SourceKind{
		Name:        "notion",
		DisplayName: "Notion",
		Auth:        domain.AuthOAuth,
		OAuth: registry.OAuthEndpoints{
			AuthorizeURL: "https://api.notion.com/v1/oauth/authorize",
			TokenURL:     notion.TokenURL,
		},
		Streams: map[string]registry.StreamKind{
			"pages": {
				Name:               "pages",
				DefaultCadence:     "0 * * * *",
				BackfillWindowDays: 0,
				TargetTables:       []string{"knowledge_note"},
				NewStream:          notion.NewPagesStream(client, gw, gw, a.Scheduler.EnqueueTransforms),
			},
		},
	})
}

func (a *App) wireIOS() {
	a.Registry.Register(registry.SourceKind{
		Name:        "ios",
		DisplayName: "iOS Companion",
		Auth:        domain.AuthDevice,
		Streams: map[string]registry.StreamKind{
			"healthkit": {
				Name:         "healthkit",
				TargetTables: []string{"health_heart_rate"},
				NewStream:    ios.NewHealthKitStream,
			},
			"location": {
				Name:         "location",
				TargetTables: []string{"location_visit"},
				NewStream:    ios.NewLocationStream,
			},
			"mic": {
				Name:         "mic",
				HasBlob:      true,
				TargetTables: []string{"audio_transcript"},
				NewStream:    ios.NewMicStream,
			},
		},
	})
}

func buildCatalog() *transform.Catalog {
	return transform.NewCatalog(
		transform.GmailToSocialEmail{},
		transform.CalendarToActivityEntry{},
		transform.CalendarToSocialInteraction{},
		transform.NotionPagesToKnowledgeNote{},
		transform.HealthKitToHeartRate{},
		transform.LocationToVisit{},
		transform.MicToAudioTranscript{},
		transform.AudioTranscriptToKnowledgeNote{},
	)
}
