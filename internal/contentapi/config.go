package contentapi

import (
	"errors"
	"time"

	"github.com/google/feedloader/internal/platform/env"
)

type Config struct {
	// BaseURL is the catalog API root, without a trailing slash.
	BaseURL string
	// MerchantID is the account items are uploaded under. For a
	// multi-client account it is the parent, and each item must carry its
	// own sub-account id.
	MerchantID string
	// IsMCA marks MerchantID as a multi-client account.
	IsMCA bool

	ContentLanguage string
	TargetCountry   string

	TokenURL     string
	ClientID     string
	ClientSecret string

	Timeout time.Duration
	// DryRun logs what would be uploaded without calling the API.
	DryRun bool
}

func ConfigFromEnv() (Config, error) {
	isMCA, err := env.Bool("IS_MCA", false)
	if err != nil {
		return Config{}, err
	}
	timeout, err := env.Duration("CONTENT_API_TIMEOUT", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	dryRun, err := env.Bool("DRY_RUN", false)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		BaseURL:         env.String("CONTENT_API_BASE_URL", "https://shoppingcontent.googleapis.com/content/v2.1"),
		MerchantID:      env.String("MERCHANT_ID", ""),
		IsMCA:           isMCA,
		ContentLanguage: env.String("CONTENT_LANGUAGE", "en"),
		TargetCountry:   env.String("TARGET_COUNTRY", "US"),
		TokenURL:        env.String("CONTENT_API_TOKEN_URL", ""),
		ClientID:        env.String("CONTENT_API_CLIENT_ID", ""),
		ClientSecret:    env.String("CONTENT_API_CLIENT_SECRET", ""),
		Timeout:         timeout,
		DryRun:          dryRun,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("contentapi: base URL is required")
	}
	if c.MerchantID == "" {
		return errors.New("contentapi: merchant id is required")
	}
	if c.ContentLanguage == "" || c.TargetCountry == "" {
		return errors.New("contentapi: content language and target country are required")
	}
	if !c.DryRun && (c.TokenURL == "" || c.ClientID == "" || c.ClientSecret == "") {
		return errors.New("contentapi: credentials are required outside dry-run")
	}
	return nil
}
