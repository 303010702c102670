package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/lsst-sqre/cachemachine/pkg/logging"
)

type dockerAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Auth     string `json:"auth"`
}

type dockerConfig struct {
	Auths map[string]dockerAuth `json:"auths"`
}

// DockerCredentials maps registry hosts to basic auth credentials,
// as parsed from a Kubernetes .dockerconfigjson secret.
type DockerCredentials map[string]dockerAuth

// LoadDockerCredentials reads a Docker config JSON file. A missing
// file is not an error: the service then talks to registries
// anonymously or via the in-cluster keychain.
func LoadDockerCredentials(path string) (DockerCredentials, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.Logger.Warn("Docker credentials file not found, using anonymous registry access",
			zap.String("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read docker credentials: %w", err)
	}

	var cfg dockerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse docker credentials: %w", err)
	}

	creds := DockerCredentials{}
	for host, auth := range cfg.Auths {
		if auth.Auth != "" && auth.Username == "" {
			decoded, err := base64.StdEncoding.DecodeString(auth.Auth)
			if err != nil {
				return nil, fmt.Errorf("failed to decode auth for %s: %w", host, err)
			}
			user, pass, ok := strings.Cut(string(decoded), ":")
			if !ok {
				return nil, fmt.Errorf("malformed auth entry for %s", host)
			}
			auth.Username = user
			auth.Password = pass
		}
		creds[host] = auth
	}
	return creds, nil
}

// Lookup returns credentials for a registry host. An entry matches
// on the exact host or on a domain suffix, so "docker.io" covers
// "registry.hub.docker.com" style mirrors configured that way.
func (c DockerCredentials) Lookup(host string) (username, password string, ok bool) {
	if auth, found := c[host]; found {
		return auth.Username, auth.Password, true
	}
	for entry, auth := range c {
		if strings.HasSuffix(host, "."+entry) {
			return auth.Username, auth.Password, true
		}
	}
	return "", "", false
}
