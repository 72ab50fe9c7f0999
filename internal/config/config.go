package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel    string      `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort    string      `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	Redis       Redis       `yaml:"redis"`
	Match       Match       `yaml:"match"`
	Matchmaking Matchmaking `yaml:"matchmaking"`
	Practice    Practice    `yaml:"practice"`
	Rating      Rating      `yaml:"rating"`
}

type Redis struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// Match holds the phase timers of a match session.
type Match struct {
	RoundTimeout time.Duration `yaml:"round-timeout" env-default:"15s"`
	Buffer       time.Duration `yaml:"buffer" env-default:"3s"`
	ResultHold   time.Duration `yaml:"result-hold" env-default:"3s"`
	VoteWindow   time.Duration `yaml:"vote-window" env-default:"10s"`
	Poll         time.Duration `yaml:"poll" env-default:"2s"`
}

type Matchmaking struct {
	PollInterval    time.Duration `yaml:"poll-interval" env-default:"2s"`
	Timeout         time.Duration `yaml:"timeout" env-default:"5m"`
	ClaimTTL        time.Duration `yaml:"claim-ttl" env-default:"10s"`
	JanitorInterval time.Duration `yaml:"janitor-interval" env-default:"1m"`
}

type Practice struct {
	Exploration float64 `yaml:"exploration" env-default:"0.15"`
}

type Rating struct {
	LeaderboardSize int `yaml:"leaderboard-size" env-default:"10"`
}

// MustLoad - load all configurations in config.yml file, overridden by the environment.
func MustLoad(path string) *Config {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
