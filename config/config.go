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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5002"

	DefaultFeePercent    = 0.02
	DefaultCredentialTTL = 30
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"SOKO_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"SOKO_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"SOKO_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"SOKO_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"SOKO_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"SOKO_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"SOKO_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"SOKO_REDIS_DNS"`
}

// EscrowConfig carries the escrow settlement knobs. The signing secret is
// injected here rather than read from ambient state so the token issuer can
// be tested deterministically and the secret rotated per environment.
type EscrowConfig struct {
	SigningSecret        string  `json:"signing_secret" envconfig:"SOKO_ESCROW_SIGNING_SECRET"`
	FeePercent           float64 `json:"fee_percent" envconfig:"SOKO_ESCROW_FEE_PERCENT"`
	CredentialTTLMinutes int     `json:"credential_ttl_minutes" envconfig:"SOKO_ESCROW_CREDENTIAL_TTL_MINUTES"`
}

func (e EscrowConfig) CredentialTTL() time.Duration {
	return time.Duration(e.CredentialTTLMinutes) * time.Minute
}

type QueueConfig struct {
	NotificationQueue string `json:"notification_queue" envconfig:"SOKO_QUEUE_NOTIFICATION"`
	MonitoringPort    string `json:"monitoring_port" envconfig:"SOKO_QUEUE_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SOKO_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SOKO_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SOKO_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"SOKO_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Escrow       EscrowConfig     `json:"escrow"`
	Queue        QueueConfig      `json:"queue"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("soko", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called soko.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Soko Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Escrow.SigningSecret == "" {
		log.Println("Error: Escrow signing secret is empty. It's a required field.")
		return errors.New("escrow signing secret is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Escrow.FeePercent <= 0 || cnf.Escrow.FeePercent >= 1 {
		cnf.Escrow.FeePercent = DefaultFeePercent
	}

	if cnf.Escrow.CredentialTTLMinutes <= 0 {
		cnf.Escrow.CredentialTTLMinutes = DefaultCredentialTTL
	}

	if cnf.Queue.NotificationQueue == "" {
		cnf.Queue.NotificationQueue = "notification_queue"
	}

	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5003"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
