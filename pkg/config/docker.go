package config

import (
	"net"
	"net/url"
	"os"
	"sync"
)

// dockerHostAlias reaches services published on the Docker host.
const dockerHostAlias = "host.docker.internal"

var (
	dockerEnvFile = "/.dockerenv"
	dockerOnce    sync.Once
	inDocker      bool
)

// IsRunningInDocker reports whether /.dockerenv exists. Checked once.
func IsRunningInDocker() bool {
	dockerOnce.Do(func() {
		_, err := os.Stat(dockerEnvFile)
		inDocker = err == nil
	})
	return inDocker
}

// ResolveHostForDocker rewrites loopback hosts to the Docker host alias
// when running in a container, so Postgres, the LLM endpoint and NATS on
// the developer machine stay reachable.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

// ResolveURLForDocker applies ResolveHostForDocker to the host part of
// rawURL. Empty or unparseable input is returned unchanged.
func ResolveURLForDocker(rawURL string) string {
	return resolveURL(rawURL, IsRunningInDocker())
}

func resolveHost(host string, containerized bool) string {
	if containerized && (host == "localhost" || host == "127.0.0.1") {
		return dockerHostAlias
	}
	return host
}

func resolveURL(rawURL string, containerized bool) string {
	if rawURL == "" || !containerized {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	host := resolveHost(u.Hostname(), true)
	if port := u.Port(); port != "" {
		host = net.JoinHostPort(host, port)
	}
	u.Host = host
	return u.String()
}
