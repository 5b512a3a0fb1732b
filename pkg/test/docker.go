// Package test provides Docker-backed testify suites for the storage backends. Suites are skipped when Docker is
// not reachable, so that unit tests can still be run on machines without it.
package test

import (
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/suite"
	"time"
)

func connectDocker(s *suite.Suite) *dockertest.Pool {
	s.T().Log("Connecting to Docker...")

	pool, err := dockertest.NewPool("")
	if err != nil {
		s.T().Skipf("Could not connect to Docker: %s", err)
	}

	if err := pool.Client.Ping(); err != nil {
		s.T().Skipf("Could not ping Docker: %s", err)
	}

	pool.MaxWait = time.Minute * 3
	return pool
}

func noRestart(config *docker.HostConfig) {
	config.AutoRemove = true
	config.RestartPolicy = docker.RestartPolicy{
		Name: "no",
	}
}
