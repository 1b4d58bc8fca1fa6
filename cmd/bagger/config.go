package main

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config holds every runtime setting for the bagger server. It is populated
// once at startup from an optional TOML file, the environment, and command
// line flags, then validated before anything else runs.
type Config struct {
	// Workspace is the directory scoped working trees are created under.
	// Required. It is expected to persist; everything created inside it is
	// temporary.
	Workspace string

	// PortNumber the server listens on.
	PortNumber string

	// ChallengeSecret clients must present on archive requests. Empty
	// disables the check.
	ChallengeSecret string

	// SentryDSN enables error reporting when set. The value "None" is
	// treated as unset, matching how deployments disable it.
	SentryDSN string

	// ChunkSizeMB is the transfer chunk and multipart part size.
	ChunkSizeMB int64

	// Concurrency bounds parallel part transfers of one remote object.
	Concurrency int

	// S3Endpoint points the adapter at a non-AWS object store, e.g. a
	// local minio. Empty uses AWS.
	S3Endpoint string

	// ContactName is the default Contact-Name bag tag.
	ContactName string

	// MaxInFlight bounds concurrently processed archive requests.
	MaxInFlight int
}

// loadConfig reads the TOML file at path, if any, and fills gaps from the
// environment. The env names match the original deployment of this service.
func loadConfig(path string) (Config, error) {
	var c Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &c); err != nil {
			return c, errors.Wrapf(err, "reading %s", path)
		}
	}
	if c.Workspace == "" {
		c.Workspace = os.Getenv("WORKSPACE_ROOT_DIR")
	}
	if c.ChallengeSecret == "" {
		c.ChallengeSecret = os.Getenv("CHALLENGE_SECRET")
	}
	if c.SentryDSN == "" {
		c.SentryDSN = os.Getenv("SENTRY_DSN")
	}
	return c, nil
}

// validate fails fast on anything that would only surface mid-request.
func (c *Config) validate() error {
	if c.Workspace == "" {
		return errors.New("missing required configuration: Workspace")
	}
	info, err := os.Stat(c.Workspace)
	if err != nil {
		return errors.Wrapf(err, "workspace %s", c.Workspace)
	}
	if !info.IsDir() {
		return errors.Errorf("workspace %s is not a directory", c.Workspace)
	}
	return nil
}

// sentryDSN returns the DSN to use, or "" when reporting is disabled.
func (c *Config) sentryDSN() string {
	if strings.EqualFold(strings.TrimSpace(c.SentryDSN), "none") {
		return ""
	}
	return c.SentryDSN
}
