package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/upb/llm-gateway/app"
	"github.com/upb/llm-gateway/config"
	"github.com/upb/llm-gateway/models"
	"github.com/upb/llm-gateway/repositories"
	"github.com/upb/llm-gateway/repositories/postgres"
	"github.com/upb/llm-gateway/services/credentials"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/utils"
	"go.uber.org/zap"
)

// configureInput is one provider configuration to persist
type configureInput struct {
	Provider string `json:"provider" validate:"required"`
	Model    string `json:"model" validate:"required"`
	APIURL   string `json:"api_url" validate:"required,url"`
	APIKey   string `json:"api_key"`
	Activate bool   `json:"activate"`
}

// runConfigure stores a provider configuration in llm_configs, sealing the
// API key, and optionally makes it the active one
func runConfigure(args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("configure", flag.ContinueOnError)
	var in configureInput
	fs.StringVar(&in.Provider, "provider", "", "provider id or alias (required)")
	fs.StringVar(&in.Model, "model", "", "model name (required)")
	fs.StringVar(&in.APIURL, "api-url", "", "provider base URL (required)")
	fs.StringVar(&in.APIKey, "key", "", `API key, "-" reads it from stdin`)
	fs.BoolVar(&in.Activate, "activate", true, "make this the active configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if in.APIKey == "-" {
		line, err := bufio.NewReader(io.LimitReader(stdin, 64<<10)).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		in.APIKey = strings.TrimSpace(line)
	}

	logger, err := initLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	registry, err := app.NewRegistry(cfg.Gateway.ProfilesFile, logger)
	if err != nil {
		return err
	}
	cipher, err := credentials.NewCipher(cfg.Gateway.EncryptionKey)
	if err != nil {
		return err
	}

	factory, err := postgres.NewRepositoryFactory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer factory.Close()
	if err := factory.InitSchema(ctx); err != nil {
		return err
	}

	stored, err := storeConfig(ctx, factory.NewRepositories().LLMConfigs, registry, cipher, in)
	if err != nil {
		return err
	}
	logger.Info("llm config stored",
		zap.String("id", stored.ID.String()),
		zap.String("provider", stored.Provider),
		zap.String("model", stored.Model),
		zap.Bool("active", stored.Active))
	_, err = fmt.Fprintln(out, stored.ID)
	return err
}

func storeConfig(ctx context.Context, repo repositories.LLMConfigRepository, registry *providers.Registry, cipher *credentials.Cipher, in configureInput) (*models.LLMConfig, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	profile, ok := registry.Lookup(in.Provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q, known: %s", in.Provider, strings.Join(registry.List(), ", "))
	}

	requiresKey := registry.RequiresKey(profile.ID)
	if requiresKey && in.APIKey == "" {
		return nil, fmt.Errorf("provider %s requires an API key", profile.ID)
	}

	rec := models.NewLLMConfig(profile.ID, in.Model, in.APIURL, requiresKey)
	if in.APIKey != "" {
		sealed, err := cipher.Encrypt(in.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to seal API key: %w", err)
		}
		rec.WithEncryptedKey(sealed)
	}

	if err := repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	if in.Activate {
		if err := repo.Activate(ctx, rec.ID); err != nil {
			return nil, err
		}
		rec.Active = true
	}
	return rec, nil
}
