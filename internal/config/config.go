package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr string

	WriteWaitMS        int
	PongWaitMS         int
	PingPeriodMS       int
	JoinTimeoutMS      int
	JoinSweepMS        int
	StaleSweepMS       int
	HandshakeTimeoutMS int
	MaxMessageBytes    int
	SendBuffer         int

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	HistoryTTLSeconds int
	HistoryMaxRounds  int
	WriterWorkers     int
	WriterQueueSize   int
}

func Load() Config {
	return Config{
		Addr:               getEnv("ADDR", ":8080"),
		WriteWaitMS:        getEnvInt("WRITE_WAIT_MS", 5000),
		PongWaitMS:         getEnvInt("PONG_WAIT_MS", 60000),
		PingPeriodMS:       getEnvInt("PING_PERIOD_MS", 30000),
		JoinTimeoutMS:      getEnvInt("JOIN_TIMEOUT_MS", 10000),
		JoinSweepMS:        getEnvInt("JOIN_SWEEP_MS", 5000),
		StaleSweepMS:       getEnvInt("STALE_SWEEP_MS", 60000),
		HandshakeTimeoutMS: getEnvInt("HANDSHAKE_TIMEOUT_MS", 3000),
		MaxMessageBytes:    getEnvInt("MAX_MESSAGE_BYTES", 4096),
		SendBuffer:         getEnvInt("SEND_BUFFER", 128),

		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		HistoryTTLSeconds: getEnvInt("HISTORY_TTL_SECONDS", 604800),
		HistoryMaxRounds:  getEnvInt("HISTORY_MAX_ROUNDS", 200),
		WriterWorkers:     getEnvInt("WRITER_WORKERS", 4),
		WriterQueueSize:   getEnvInt("WRITER_QUEUE_SIZE", 10000),
	}
}

// Millisecond env values as durations.

func (c Config) WriteWait() time.Duration   { return time.Duration(c.WriteWaitMS) * time.Millisecond }
func (c Config) PongWait() time.Duration    { return time.Duration(c.PongWaitMS) * time.Millisecond }
func (c Config) PingPeriod() time.Duration  { return time.Duration(c.PingPeriodMS) * time.Millisecond }
func (c Config) JoinTimeout() time.Duration { return time.Duration(c.JoinTimeoutMS) * time.Millisecond }
func (c Config) JoinSweep() time.Duration   { return time.Duration(c.JoinSweepMS) * time.Millisecond }
func (c Config) StaleSweep() time.Duration  { return time.Duration(c.StaleSweepMS) * time.Millisecond }
func (c Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMS) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}
