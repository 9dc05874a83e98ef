package config

import (
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Duration - обёртка над time.Duration, которая читается из строк вида "3s"
// и в YAML, и в TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText разбирает "5s", "250ms", "10m"
func (d *Duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}

// MarshalText нужен для обратной записи конфига
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML разбирает скаляр YAML как длительность
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Limiter описывает ограничение частоты: N событий пачкой, одно новое каждые Every.
type Limiter struct {
	Every Duration `yaml:"every" toml:"every"`
	N     int      `yaml:"n" toml:"n"`
}

// Limiter создаёт готовый rate.Limiter
func (l Limiter) Limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(l.Every.Duration), l.N)
}
