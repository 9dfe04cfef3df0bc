// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		// Log is the logging config
		Log Logger `yaml:"log"`

		// Database is the table storage that sessions, tasks and results are kept in
		Database DatabaseConfig `yaml:"database"`

		// QueueStorage is the queue that carries task references to the pollsters
		QueueStorage QueueStorageConfig `yaml:"queueStorage"`

		// ObjectStorage keeps the out-of-line payloads and the result bytes
		ObjectStorage ObjectStorageConfig `yaml:"objectStorage"`

		// SubmitterService is the config of the client facing API
		SubmitterService SubmitterServiceConfig `yaml:"submitterService"`

		// PollsterService is the config of the task executing service
		PollsterService PollsterServiceConfig `yaml:"pollsterService"`
	}

	DatabaseConfig struct {
		// Backend is either "sql" or "memory". Default is "sql"
		Backend StorageBackend `yaml:"backend"`
		// SQL is the SQL database config, required by the sql backend
		SQL *SQL `yaml:"sql"`
	}

	SubmitterServiceConfig struct {
		// HttpServer is the config for starting http.Server
		HttpServer HttpServerConfig `yaml:"httpServer"`
		// DefaultPartitionId is used when a session is created without any partition
		// Default is "default"
		DefaultPartitionId string `yaml:"defaultPartitionId"`
		// AllowedPartitionIds restricts the partitions a session can be created with.
		// Empty means any partition is accepted
		AllowedPartitionIds []string `yaml:"allowedPartitionIds"`
		// PollingDelay is the interval between two task counts in WaitForCompletion
		// Default is 1 second
		PollingDelay time.Duration `yaml:"pollingDelay"`
		// UploadConcurrency is the max number of concurrent payload uploads of one CreateTasks call
		// Default is 8
		UploadConcurrency int `yaml:"uploadConcurrency"`
		// EnqueueRetryTimeout bounds the retries of the enqueue of submitted tasks.
		// Default is 10 seconds
		EnqueueRetryTimeout time.Duration `yaml:"enqueueRetryTimeout"`
		// PollsterAddresses are the internal http addresses of the pollsters, e.g. http://localhost:8802.
		// They are notified after each submission so that new tasks are pulled without waiting for
		// the next poll interval. Optional
		PollsterAddresses []string `yaml:"pollsterAddresses"`
	}

	PollsterServiceConfig struct {
		// PodId identifies this pollster in the task rows it owns. Default is the hostname
		PodId string `yaml:"podId"`
		// PartitionId is the partition this pollster pulls messages from. Default is "default"
		PartitionId string `yaml:"partitionId"`
		// Concurrency is the number of goroutines that execute tasks. Default is 10
		Concurrency int `yaml:"concurrency"`
		// MessageBatchSize is the max number of messages pulled at once. Default is 1
		MessageBatchSize int `yaml:"messageBatchSize"`
		// PollInterval is the wait between two pulls when the queue was empty. Default is 1 second
		PollInterval time.Duration `yaml:"pollInterval"`
		// PollIntervalJitter is added randomly to PollInterval. Default is 200 milliseconds
		PollIntervalJitter time.Duration `yaml:"pollIntervalJitter"`
		// TaskLeaseDuration is how long an acquisition stays valid without renewal. Default is 30 seconds
		TaskLeaseDuration time.Duration `yaml:"taskLeaseDuration"`
		// TaskLeaseRefresh is the interval of the lease renewal. Default is 10 seconds.
		// The cancellations of a running task are checked every PollInterval
		TaskLeaseRefresh time.Duration `yaml:"taskLeaseRefresh"`
		// Worker is the compute worker this pollster drives
		Worker WorkerConfig `yaml:"worker"`
		// InternalHttpServer serves the health and metrics endpoints
		InternalHttpServer HttpServerConfig `yaml:"internalHttpServer"`
	}

	WorkerConfig struct {
		// Address is the base url of the worker, e.g. http://localhost:8803
		Address string `yaml:"address"`
		// ConnectTimeout caps the time to dial the worker. Default is 10 seconds
		ConnectTimeout time.Duration `yaml:"connectTimeout"`
		// MaxErrorDetailSize is the max size of the error stored into a failed task. Default is 1000 bytes
		MaxErrorDetailSize int `yaml:"maxErrorDetailSize"`
	}

	// HttpServerConfig is the config that will be mapped into http.Server
	HttpServerConfig struct {
		// Address optionally specifies the TCP address for the server to listen on,
		// in the form "host:port". If empty, ":http" (port 80) is used.
		Address string `yaml:"address"`
		// ReadTimeout is the maximum duration for reading the entire
		// request, including the body.
		ReadTimeout time.Duration `yaml:"readTimeout"`
		// WriteTimeout is the maximum duration before timing out
		// writes of the response.
		WriteTimeout time.Duration `yaml:"writeTimeout"`
		// TLSConfig optionally provides a TLS configuration for use
		// by ServeTLS and ListenAndServeTLS
		TLSConfig *tls.Config `yaml:"tlsConfig"`
		// the rest are less frequently used
		ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
		IdleTimeout       time.Duration `yaml:"idleTimeout"`
		MaxHeaderBytes    int           `yaml:"maxHeaderBytes"`
	}

	StorageBackend string
)

const (
	StorageBackendSQL      StorageBackend = "sql"
	StorageBackendMemory   StorageBackend = "memory"
	StorageBackendPulsar   StorageBackend = "pulsar"
	StorageBackendPostgres StorageBackend = "postgres"
	StorageBackendRedis    StorageBackend = "redis"
	StorageBackendS3       StorageBackend = "s3"
)

const DefaultPartitionId = "default"

const defaultEnqueueRetryTimeout = 10 * time.Second

// NewConfig returns a new decoded Config struct
func NewConfig(configPath string) (*Config, error) {
	log.Printf("Loading configFile=%v\n", configPath)

	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)

	if err := d.Decode(&config); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) ValidateAndSetDefaults() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.QueueStorage.ValidateAndSetDefaults(); err != nil {
		return err
	}
	if err := c.ObjectStorage.ValidateAndSetDefaults(); err != nil {
		return err
	}

	submitterCfg := &c.SubmitterService
	if submitterCfg.DefaultPartitionId == "" {
		submitterCfg.DefaultPartitionId = DefaultPartitionId
	}
	if submitterCfg.PollingDelay == 0 {
		submitterCfg.PollingDelay = time.Second
	}
	if submitterCfg.UploadConcurrency == 0 {
		submitterCfg.UploadConcurrency = 8
	}
	if submitterCfg.EnqueueRetryTimeout == 0 {
		submitterCfg.EnqueueRetryTimeout = defaultEnqueueRetryTimeout
	}

	pollsterCfg := &c.PollsterService
	if pollsterCfg.PodId == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("pollsterService.podId is not set and hostname is unavailable: %w", err)
		}
		pollsterCfg.PodId = hostname
	}
	if pollsterCfg.PartitionId == "" {
		pollsterCfg.PartitionId = DefaultPartitionId
	}
	if pollsterCfg.Concurrency == 0 {
		pollsterCfg.Concurrency = 10
	}
	if pollsterCfg.MessageBatchSize == 0 {
		pollsterCfg.MessageBatchSize = 1
	}
	if pollsterCfg.PollInterval == 0 {
		pollsterCfg.PollInterval = time.Second
	}
	if pollsterCfg.PollIntervalJitter == 0 {
		pollsterCfg.PollIntervalJitter = 200 * time.Millisecond
	}
	if pollsterCfg.TaskLeaseDuration == 0 {
		pollsterCfg.TaskLeaseDuration = 30 * time.Second
	}
	if pollsterCfg.TaskLeaseRefresh == 0 {
		pollsterCfg.TaskLeaseRefresh = 10 * time.Second
	}
	if pollsterCfg.TaskLeaseRefresh >= pollsterCfg.TaskLeaseDuration {
		return fmt.Errorf("pollsterService.taskLeaseRefresh must be shorter than pollsterService.taskLeaseDuration")
	}
	if pollsterCfg.Worker.ConnectTimeout == 0 {
		pollsterCfg.Worker.ConnectTimeout = 10 * time.Second
	}
	if pollsterCfg.Worker.MaxErrorDetailSize == 0 {
		pollsterCfg.Worker.MaxErrorDetailSize = 1000
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Backend == "" {
		c.Database.Backend = StorageBackendSQL
	}
	switch c.Database.Backend {
	case StorageBackendMemory:
		return nil
	case StorageBackendSQL:
		if c.Database.SQL == nil {
			return fmt.Errorf("sql config is required")
		}
		sql := c.Database.SQL
		if anyAbsent(sql.DatabaseName, sql.DBExtensionName, sql.ConnectAddr, sql.User) {
			return fmt.Errorf("some required configs are missing: sql.DatabaseName, sql.DBExtensionName, sql.ConnectAddr, sql.User")
		}
		return nil
	default:
		return fmt.Errorf("unsupported database backend %v", c.Database.Backend)
	}
}

func anyAbsent(strs ...string) bool {
	for _, s := range strs {
		if s == "" {
			return true
		}
	}
	return false
}

// String converts the config object into a string
func (c *Config) String() string {
	out, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		panic(err)
	}
	return string(out)
}
