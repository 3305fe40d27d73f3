package main

import (
	"fmt"
	"time"

	ini "gopkg.in/ini.v1"
)

// Settings holds application configuration loaded from settings.ini.
type Settings struct {
	ariURL      string
	ariUsername string
	ariPassword string
	ariApp      string

	httpAddr string

	reconnectBase int
	reconnectCap  int
	sendTimeout   int

	fanoutQueueSize int

	dataDir         string
	storageInMemory bool

	greeting      string
	recordMaxSec  int
	recordSilence int
	defaultBridge string
}

// LoadSettings reads configuration from ini file and validates required fields.
func LoadSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{}

	sec := cfg.Section("ari")
	s.ariURL = sec.Key("url").MustString("http://asterisk:8088/ari")
	s.ariUsername = sec.Key("username").String()
	s.ariPassword = sec.Key("password").String()
	s.ariApp = sec.Key("app").MustString("ivr-handler")

	sec = cfg.Section("http")
	s.httpAddr = sec.Key("listen_addr").MustString(":8000")

	sec = cfg.Section("link")
	s.reconnectBase = sec.Key("reconnect_base").MustInt(1)
	s.reconnectCap = sec.Key("reconnect_cap").MustInt(30)
	s.sendTimeout = sec.Key("send_timeout").MustInt(10)

	sec = cfg.Section("fanout")
	s.fanoutQueueSize = sec.Key("queue_size").MustInt(32)

	sec = cfg.Section("storage")
	s.dataDir = sec.Key("data_dir").MustString("data")
	s.storageInMemory = sec.Key("in_memory").MustBool(false)

	sec = cfg.Section("media")
	s.greeting = sec.Key("greeting").MustString("tt-monkeys")
	s.recordMaxSec = sec.Key("record_max_seconds").MustInt(3600)
	s.recordSilence = sec.Key("record_max_silence").MustInt(5)
	s.defaultBridge = sec.Key("bridge_type").MustString("mixing")

	if s.ariUsername == "" || s.ariPassword == "" {
		return nil, fmt.Errorf("ari credentials must be set")
	}

	return s, nil
}

func (s *Settings) ARIURL() string      { return s.ariURL }
func (s *Settings) ARIUsername() string { return s.ariUsername }
func (s *Settings) ARIPassword() string { return s.ariPassword }
func (s *Settings) ARIApp() string      { return s.ariApp }

func (s *Settings) HTTPAddr() string { return s.httpAddr }

func (s *Settings) FanoutQueueSize() int { return s.fanoutQueueSize }

func (s *Settings) DataDir() string       { return s.dataDir }
func (s *Settings) StorageInMemory() bool { return s.storageInMemory }

func (s *Settings) Greeting() string          { return s.greeting }
func (s *Settings) RecordMaxSeconds() int     { return s.recordMaxSec }
func (s *Settings) RecordMaxSilence() int     { return s.recordSilence }
func (s *Settings) DefaultBridgeType() string { return s.defaultBridge }

func (s *Settings) ReconnectBase() time.Duration {
	return time.Duration(s.reconnectBase) * time.Second
}

func (s *Settings) ReconnectCap() time.Duration {
	return time.Duration(s.reconnectCap) * time.Second
}

func (s *Settings) SendTimeout() time.Duration {
	return time.Duration(s.sendTimeout) * time.Second
}
