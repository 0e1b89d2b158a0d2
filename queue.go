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
	"encoding/json"
	"log"

	"github.com/sokomarket/soko/config"
	redis_db "github.com/sokomarket/soko/internal/redis-db"

	"github.com/hibiken/asynq"
)

// Queue hands settlement notifications off to the worker process so a slow
// partner endpoint never sits on the redemption path.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queueNotification enqueues a notification task. When no webhook endpoint is
// configured it is a no-op, matching a deployment that has notifications
// switched off.
func (q *Queue) queueNotification(notification NewNotification) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	if cfg.Notification.Webhook.Url == "" {
		return nil
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{asynq.Queue(cfg.Queue.NotificationQueue)}
	task := asynq.NewTask(cfg.Queue.NotificationQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}
