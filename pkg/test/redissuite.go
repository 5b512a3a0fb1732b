package test

import (
	"context"
	"fmt"
	"github.com/ory/dockertest/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"time"
)

type RedisSuite struct {
	suite.Suite

	pool     *dockertest.Pool
	resource *dockertest.Resource

	client *redis.Client
}

const RedisImageTag = "7-alpine"

func (s *RedisSuite) Client() *redis.Client {
	return s.client
}

func (s *RedisSuite) SetupSuite() {
	s.pool = connectDocker(&s.Suite)

	s.T().Log("Connected to Docker, starting Redis container...")

	resource, err := s.pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        RedisImageTag,
	}, noRestart)
	s.Require().NoErrorf(err, "Could not start Redis: %s", err)
	s.resource = resource

	err = s.pool.Retry(func() error {
		s.client = redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("localhost:%s", resource.GetPort("6379/tcp")),
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.client.Ping(ctx).Err()
	})
	s.Require().NoErrorf(err, "Redis did not become ready: %s", err)

	s.T().Log("Redis container is ready")
}

func (s *RedisSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Require().NoError(s.client.FlushDB(ctx).Err(), "Failed to flush Redis after test")
}

func (s *RedisSuite) TearDownSuite() {
	if s.client == nil {
		return
	}

	s.Assert().NoError(s.client.Close())
	s.Require().NoErrorf(s.pool.Purge(s.resource), "Could not purge Docker resource")
}
