package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Environment variables read by EnvSource.
const (
	EnvStoreDSN  = "AR_STORE_DSN"
	EnvSecretKey = "AR_SECRET_KEY"
)

// credentials is what a Source yields: the store connection string and the
// session signing key.
type credentials struct {
	StoreDSN  string `json:"store_dsn"`
	SecretKey string `json:"secret_key"`
}

// Source supplies store credentials. Sources are tried in order; the first
// one that yields credentials wins. A source that has nothing to offer
// reports ok=false without an error, a malformed one reports the error.
type Source interface {
	resolve() (creds credentials, ok bool, err error)
}

// InlineSource carries the credentials directly.
type InlineSource struct {
	StoreDSN  string
	SecretKey string
}

func (s InlineSource) resolve() (credentials, bool, error) {
	if s.StoreDSN == "" && s.SecretKey == "" {
		return credentials{}, false, nil
	}
	return credentials{StoreDSN: s.StoreDSN, SecretKey: s.SecretKey}, true, nil
}

// EnvSource reads AR_STORE_DSN and AR_SECRET_KEY.
type EnvSource struct{}

func (EnvSource) resolve() (credentials, bool, error) {
	c := credentials{
		StoreDSN:  os.Getenv(EnvStoreDSN),
		SecretKey: os.Getenv(EnvSecretKey),
	}
	if c.StoreDSN == "" && c.SecretKey == "" {
		return credentials{}, false, nil
	}
	return c, true, nil
}

// JSONSource is a literal JSON document with store_dsn and secret_key.
type JSONSource string

func (s JSONSource) resolve() (credentials, bool, error) {
	if s == "" {
		return credentials{}, false, nil
	}
	var c credentials
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return credentials{}, false, fmt.Errorf("credentials JSON: %w", err)
	}
	return c, true, nil
}

// FileSource is a path to a JSON document with store_dsn and secret_key.
type FileSource string

func (s FileSource) resolve() (credentials, bool, error) {
	if s == "" {
		return credentials{}, false, nil
	}
	data, err := os.ReadFile(string(s))
	if err != nil {
		return credentials{}, false, fmt.Errorf("credentials file: %w", err)
	}
	var c credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return credentials{}, false, fmt.Errorf("credentials file %s: %w", s, err)
	}
	return c, true, nil
}

func resolveSources(cfg *Config, sources []Source) error {
	for _, s := range sources {
		creds, ok, err := s.resolve()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if creds.StoreDSN != "" {
			cfg.StoreDSN = creds.StoreDSN
		}
		if creds.SecretKey != "" {
			cfg.SecretKey = creds.SecretKey
		}
		return nil
	}
	return nil
}
