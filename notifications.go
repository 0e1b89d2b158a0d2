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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/sokomarket/soko/config"

	"github.com/hibiken/asynq"
)

// Notification events emitted after a successful settlement.
const (
	EventWalletCredited = "wallet.credited"
	EventEscrowReleased = "escrow.released"
)

// NewNotification represents the structure of an outbound notification.
// It includes an event type, the user it concerns, and payload data.
type NewNotification struct {
	Event   string      `json:"event"`
	UserID  string      `json:"user_id"`
	Payload interface{} `json:"data"`
}

// processHTTP delivers a notification via HTTP POST to the configured
// webhook endpoint.
func processHTTP(data NewNotification) error {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Println("Error marshaling data:", err)
		return err
	}
	payload := bytes.NewBuffer(jsonData)

	req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, payload)
	if err != nil {
		log.Println("Error creating request:", err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		log.Println("Error sending request:", err)
		return err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	// Check if the status code is not in the 2XX success range
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Notification request failed with status code: %d\n", resp.StatusCode)
		return nil
	}

	log.Println("Notification sent successfully:", data.Event)
	return nil
}

// ProcessNotification processes a notification task from the queue, retrying
// transient delivery failures with exponential backoff before giving the task
// back to asynq.
func ProcessNotification(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	var payload NewNotification
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing notification: %+v\n", payload.Event)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(func() error {
		return processHTTP(payload)
	}, backoff.WithMaxRetries(policy, 3))
}
