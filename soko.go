/*
Copyright 2025 Soko Market Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package soko

import (
	"embed"
	"fmt"

	"github.com/sokomarket/soko/config"
	"github.com/sokomarket/soko/database"
	redis_db "github.com/sokomarket/soko/internal/redis-db"
	"github.com/redis/go-redis/v9"
)

// Soko is the delivery verification and escrow settlement core. It owns
// credential issuance, redemption, and the settlement writes that move money
// out of escrow.
type Soko struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewSoko initializes a new instance of Soko with the provided database datasource.
// It fetches the configuration and initializes the Redis client and notification queue.
func NewSoko(db database.IDataSource) (*Soko, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	newSoko := &Soko{datasource: db, queue: newQueue, redis: redisClient.Client()}
	return newSoko, nil
}
