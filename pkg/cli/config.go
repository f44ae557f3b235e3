package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/comanager/pkg/adapter"
	"github.com/m-mizutani/comanager/pkg/repository"
	"github.com/m-mizutani/comanager/pkg/service/identity"
	"github.com/m-mizutani/comanager/pkg/service/policy"
	"github.com/m-mizutani/comanager/pkg/service/project"
	"github.com/m-mizutani/comanager/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const (
	providerGemini = "gemini"
	providerOpenAI = "openai"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// LLM
	llmProvider          string
	geminiProject        string
	geminiLocation       string
	geminiModel          string
	geminiEmbeddingModel string
	openaiAPIKey         string
	openaiBaseURL        string
	openaiModel          string
	openaiEmbeddingModel string
	marketingModel       string
	technicalModel       string
	modelTimeout         time.Duration
	toolTimeout          time.Duration

	// Repository
	firestoreProject  string
	firestoreDatabase string
	memoryCollection  string

	// Storefront
	shopifyDomain   string
	shopifyToken    string
	bigqueryProject string
	bigqueryDataset string

	// Project metadata
	projectDir    string
	projectBucket string
	projectPrefix string
	projectWatch  bool

	// Identity
	jwksURL     string
	jwtSecret   string
	jwtIssuer   string
	jwtAudience string
	cookieName  string

	policyDir string
	mcpConfig string
}

// globalFlags returns logging flags shared by all commands
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("COMANAGER_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("COMANAGER_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-provider",
			Usage:       "Model provider (gemini, openai)",
			Value:       providerGemini,
			Sources:     cli.EnvVars("COMANAGER_LLM_PROVIDER"),
			Destination: &cfg.llmProvider,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini generative model",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "gemini-embedding-model",
			Usage:       "Gemini embedding model",
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.geminiEmbeddingModel,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "API key of the OpenAI compatible endpoint",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "Base URL of the OpenAI compatible endpoint",
			Sources:     cli.EnvVars("OPENAI_BASE_URL"),
			Destination: &cfg.openaiBaseURL,
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Usage:       "Chat model of the OpenAI compatible endpoint",
			Sources:     cli.EnvVars("OPENAI_MODEL"),
			Destination: &cfg.openaiModel,
		},
		&cli.StringFlag{
			Name:        "openai-embedding-model",
			Usage:       "Embedding model of the OpenAI compatible endpoint",
			Sources:     cli.EnvVars("OPENAI_EMBEDDING_MODEL"),
			Destination: &cfg.openaiEmbeddingModel,
		},
		&cli.StringFlag{
			Name:        "marketing-model",
			Usage:       "Model of the marketing agent, overriding the provider default",
			Sources:     cli.EnvVars("COMANAGER_MARKETING_MODEL"),
			Destination: &cfg.marketingModel,
		},
		&cli.StringFlag{
			Name:        "technical-model",
			Usage:       "Model of the technical agent, overriding the provider default",
			Sources:     cli.EnvVars("COMANAGER_TECHNICAL_MODEL"),
			Destination: &cfg.technicalModel,
		},
		&cli.DurationFlag{
			Name:        "model-timeout",
			Usage:       "Timeout of each model round",
			Value:       2 * time.Minute,
			Sources:     cli.EnvVars("COMANAGER_MODEL_TIMEOUT"),
			Destination: &cfg.modelTimeout,
		},
		&cli.DurationFlag{
			Name:        "tool-timeout",
			Usage:       "Timeout of each tool invocation",
			Value:       30 * time.Second,
			Sources:     cli.EnvVars("COMANAGER_TOOL_TIMEOUT"),
			Destination: &cfg.toolTimeout,
		},
	}
}

// repositoryFlags returns flags of the memory repository
func repositoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID of Firestore. In-memory storage is used when empty",
			Sources:     cli.EnvVars("FIRESTORE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.firestoreDatabase,
		},
		&cli.StringFlag{
			Name:        "memory-collection",
			Usage:       "Firestore collection of memories",
			Value:       "memories",
			Sources:     cli.EnvVars("COMANAGER_MEMORY_COLLECTION"),
			Destination: &cfg.memoryCollection,
		},
	}
}

// storefrontFlags returns flags of the store data source
func storefrontFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "shopify-domain",
			Usage:       "Shopify store domain (e.g. example.myshopify.com)",
			Sources:     cli.EnvVars("SHOPIFY_STORE_DOMAIN"),
			Destination: &cfg.shopifyDomain,
		},
		&cli.StringFlag{
			Name:        "shopify-token",
			Usage:       "Shopify Admin API access token",
			Sources:     cli.EnvVars("SHOPIFY_ACCESS_TOKEN"),
			Destination: &cfg.shopifyToken,
		},
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project ID of the exported store dataset",
			Sources:     cli.EnvVars("BIGQUERY_PROJECT_ID"),
			Destination: &cfg.bigqueryProject,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset with products, orders and shop tables",
			Sources:     cli.EnvVars("BIGQUERY_DATASET_ID"),
			Destination: &cfg.bigqueryDataset,
		},
	}
}

// projectFlags returns flags of the project metadata source
func projectFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project-dir",
			Usage:       "Root directory of the project the technical agent works on",
			Sources:     cli.EnvVars("COMANAGER_PROJECT_DIR"),
			Destination: &cfg.projectDir,
		},
		&cli.StringFlag{
			Name:        "project-bucket",
			Usage:       "Cloud Storage bucket holding a project snapshot",
			Sources:     cli.EnvVars("COMANAGER_PROJECT_BUCKET"),
			Destination: &cfg.projectBucket,
		},
		&cli.StringFlag{
			Name:        "project-prefix",
			Usage:       "Object prefix of the project snapshot",
			Sources:     cli.EnvVars("COMANAGER_PROJECT_PREFIX"),
			Destination: &cfg.projectPrefix,
		},
		&cli.BoolFlag{
			Name:        "project-watch",
			Usage:       "Invalidate cached project metadata when files under project-dir change",
			Sources:     cli.EnvVars("COMANAGER_PROJECT_WATCH"),
			Destination: &cfg.projectWatch,
		},
	}
}

// identityFlags returns flags of the session verification
func identityFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "jwks-url",
			Usage:       "JWKS URL to verify session tokens",
			Sources:     cli.EnvVars("COMANAGER_JWKS_URL"),
			Destination: &cfg.jwksURL,
		},
		&cli.StringFlag{
			Name:        "jwt-secret",
			Usage:       "HS256 secret to verify session tokens",
			Sources:     cli.EnvVars("COMANAGER_JWT_SECRET"),
			Destination: &cfg.jwtSecret,
		},
		&cli.StringFlag{
			Name:        "jwt-issuer",
			Usage:       "Expected issuer of session tokens",
			Sources:     cli.EnvVars("COMANAGER_JWT_ISSUER"),
			Destination: &cfg.jwtIssuer,
		},
		&cli.StringFlag{
			Name:        "jwt-audience",
			Usage:       "Expected audience of session tokens",
			Sources:     cli.EnvVars("COMANAGER_JWT_AUDIENCE"),
			Destination: &cfg.jwtAudience,
		},
		&cli.StringFlag{
			Name:        "session-cookie",
			Usage:       "Cookie carrying the session token",
			Value:       "session",
			Sources:     cli.EnvVars("COMANAGER_SESSION_COOKIE"),
			Destination: &cfg.cookieName,
		},
	}
}

// extensionFlags returns flags of the access policy and MCP servers
func extensionFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of rego files defining data.comanager.chat.allow",
			Sources:     cli.EnvVars("COMANAGER_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "YAML file of MCP servers offered to the technical agent",
			Sources:     cli.EnvVars("COMANAGER_MCP_CONFIG"),
			Destination: &cfg.mcpConfig,
		},
	}
}

// setupLogger installs the configured logger as default and into ctx
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.NewWithFormat(cfg.logLevel, logging.Format(cfg.logFormat), os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// llmClient is a provider that serves both chat and embedding
type llmClient interface {
	adapter.LLM
	adapter.Embedder
}

// newLLM creates the configured model provider
func (cfg *config) newLLM(ctx context.Context) (llmClient, error) {
	switch cfg.llmProvider {
	case providerGemini:
		if cfg.geminiProject == "" {
			return nil, goerr.New("gemini-project is required")
		}
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}

		var opts []adapter.GeminiOption
		if cfg.geminiModel != "" {
			opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
		}
		if cfg.geminiEmbeddingModel != "" {
			opts = append(opts, adapter.WithEmbeddingModel(cfg.geminiEmbeddingModel))
		}
		return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)

	case providerOpenAI:
		if cfg.openaiAPIKey == "" {
			return nil, goerr.New("openai-api-key is required")
		}

		var opts []adapter.OpenAIOption
		if cfg.openaiBaseURL != "" {
			opts = append(opts, adapter.WithOpenAIBaseURL(cfg.openaiBaseURL))
		}
		if cfg.openaiModel != "" {
			opts = append(opts, adapter.WithOpenAIModel(cfg.openaiModel))
		}
		if cfg.openaiEmbeddingModel != "" {
			opts = append(opts, adapter.WithOpenAIEmbeddingModel(cfg.openaiEmbeddingModel))
		}
		return adapter.NewOpenAI(cfg.openaiAPIKey, opts...), nil
	}

	return nil, goerr.New("unknown llm-provider", goerr.V("provider", cfg.llmProvider))
}

// newRepository creates the memory repository and its cleanup function
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, func(), error) {
	if cfg.firestoreProject == "" {
		logging.From(ctx).Warn("firestore-project is not set, memories are kept in process memory")
		return repository.NewMemory(), func() {}, nil
	}

	repo, err := repository.NewFirestore(ctx, cfg.firestoreProject, cfg.firestoreDatabase,
		repository.WithCollection(cfg.memoryCollection))
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, func() {
		if err := repo.Close(); err != nil {
			logging.From(ctx).Warn("failed to close repository", "error", err)
		}
	}, nil
}

// newStorefront creates the store data source. It returns nil when none is
// configured, which disables the store tools.
func (cfg *config) newStorefront(ctx context.Context) (adapter.Storefront, error) {
	switch {
	case cfg.shopifyDomain != "":
		sf, err := adapter.NewShopify(cfg.shopifyDomain, cfg.shopifyToken)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create Shopify client")
		}
		return sf, nil

	case cfg.bigqueryDataset != "":
		if cfg.bigqueryProject == "" {
			return nil, goerr.New("bigquery-project is required with bigquery-dataset")
		}
		sf, err := adapter.NewBigQueryStorefront(ctx, cfg.bigqueryProject, cfg.bigqueryDataset)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create BigQuery storefront")
		}
		return sf, nil
	}

	logging.From(ctx).Warn("no storefront configured, store tools are disabled")
	return nil, nil
}

// newProjectReader creates the project metadata reader of the technical
// agent. It returns nil when no project is configured.
func (cfg *config) newProjectReader(ctx context.Context) (project.Reader, error) {
	switch {
	case cfg.projectDir != "":
		fsReader, err := project.NewFSReader(cfg.projectDir)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open project directory")
		}
		cached := project.NewCached(fsReader)
		if cfg.projectWatch {
			if err := cached.Watch(ctx, fsReader.Root()); err != nil {
				return nil, goerr.Wrap(err, "failed to watch project directory")
			}
		}
		return cached, nil

	case cfg.projectBucket != "":
		storage, err := adapter.NewStorage(ctx, cfg.projectBucket)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return project.NewCached(project.NewGCSReader(storage, cfg.projectPrefix)), nil
	}

	return nil, nil
}

// newIdentity creates the session verifier of the HTTP server
func (cfg *config) newIdentity(ctx context.Context) (identity.Provider, error) {
	opts := []identity.JWTOption{identity.WithCookieName(cfg.cookieName)}
	if cfg.jwtIssuer != "" {
		opts = append(opts, identity.WithIssuer(cfg.jwtIssuer))
	}
	if cfg.jwtAudience != "" {
		opts = append(opts, identity.WithAudience(cfg.jwtAudience))
	}

	switch {
	case cfg.jwksURL != "":
		return identity.NewJWKS(ctx, cfg.jwksURL, opts...)
	case cfg.jwtSecret != "":
		return identity.NewHMAC([]byte(cfg.jwtSecret), opts...)
	}

	return nil, goerr.New("jwks-url or jwt-secret is required")
}

// newAuthorizer loads the access policy. A nil authorizer allows all.
func (cfg *config) newAuthorizer(ctx context.Context) (*policy.Authorizer, error) {
	if cfg.policyDir == "" {
		return nil, nil
	}
	authz, err := policy.Load(ctx, cfg.policyDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load policy")
	}
	if authz == nil {
		logging.From(ctx).Warn("no rego file in policy-dir", "dir", cfg.policyDir)
	}
	return authz, nil
}

func (cfg *config) logAttrs() []any {
	return []any{
		slog.String("llm_provider", cfg.llmProvider),
		slog.Bool("firestore", cfg.firestoreProject != ""),
		slog.Bool("shopify", cfg.shopifyDomain != ""),
		slog.Bool("bigquery", cfg.bigqueryDataset != ""),
		slog.String("project_dir", cfg.projectDir),
		slog.String("project_bucket", cfg.projectBucket),
		slog.String("policy_dir", cfg.policyDir),
		slog.String("mcp_config", cfg.mcpConfig),
	}
}
