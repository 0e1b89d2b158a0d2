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

package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/spf13/cobra"

	"github.com/sokomarket/soko"
	"github.com/sokomarket/soko/config"
	redis_db "github.com/sokomarket/soko/internal/redis-db"
)

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.NotificationQueue] = 3
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.NotificationQueue, soko.ProcessNotification)
}

// startMonitoringServer exposes the asynqmon dashboard for queue inspection.
func startMonitoringServer(conf *config.Configuration) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Printf("Error parsing Redis URL for monitoring: %v", err)
		return
	}

	h := asynqmon.New(asynqmon.Options{
		RootPath: "/monitoring",
		RedisConnOpt: asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
	})

	mux := http.NewServeMux()
	mux.Handle(h.RootPath()+"/", h)

	go func() {
		log.Printf("Starting monitoring server on :%s", conf.Queue.MonitoringPort)
		if err := http.ListenAndServe(":"+conf.Queue.MonitoringPort, mux); err != nil {
			log.Printf("Monitoring server error: %v", err)
		}
	}()
}

// workerCommands returns the Cobra command that starts the notification
// workers.
func workerCommands(s *sokoInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start soko workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal("Error initializing worker server:", err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(mux)

			startMonitoringServer(conf)

			if err := srv.Run(mux); err != nil {
				log.Fatal("Error running worker server:", err)
			}
		},
	}

	return cmd
}
