//go:build linux
// +build linux

// File: cmd/presence-server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// fileConfig mirrors server.conf.
//
//	{
//	  "port": 8080,
//	  "timeout": 30,
//	  "java-server": {"ip": "127.0.0.1", "port": 8081, "request-url": "/user/offline"}
//	}
type fileConfig struct {
	Port       *int          `json:"port"`
	Timeout    *int          `json:"timeout"` // heartbeat interval, seconds
	JavaServer *backendBlock `json:"java-server"`
}

type backendBlock struct {
	IP         *string `json:"ip"`
	Port       *int    `json:"port"`
	RequestURL *string `json:"request-url"`
}

// Config is the validated process configuration.
type Config struct {
	Port              uint16
	HeartbeatInterval time.Duration
	BackendIP         string
	BackendPort       int
	BackendURL        string
}

func loadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open the config file: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("config file %s is empty", path)
	}
	return parseConfig(raw)
}

func parseConfig(raw []byte) (*Config, error) {
	var fc fileConfig
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	switch {
	case fc.Port == nil:
		return nil, errors.New("config does not define the socket server listen port")
	case fc.Timeout == nil:
		return nil, errors.New("config does not define the heartbeat timeout")
	case fc.JavaServer == nil:
		return nil, errors.New("config does not define the java-server block")
	case fc.JavaServer.IP == nil:
		return nil, errors.New("config does not define java-server ip")
	case fc.JavaServer.Port == nil:
		return nil, errors.New("config does not define java-server port")
	case fc.JavaServer.RequestURL == nil:
		return nil, errors.New("config does not define java-server request-url")
	}
	if *fc.Port < 0 || *fc.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range", *fc.Port)
	}
	if *fc.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %d", *fc.Timeout)
	}
	return &Config{
		Port:              uint16(*fc.Port),
		HeartbeatInterval: time.Duration(*fc.Timeout) * time.Second,
		BackendIP:         *fc.JavaServer.IP,
		BackendPort:       *fc.JavaServer.Port,
		BackendURL:        *fc.JavaServer.RequestURL,
	}, nil
}
