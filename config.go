// config.go
package inmotechcitas

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config concentra toda la configuración del servicio. Se carga de variables
// de entorno, con un .env opcional para desarrollo.
type Config struct {
	Port        int    `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DBDSN       string `mapstructure:"DB_DSN"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	JWTTTLHours int    `mapstructure:"JWT_TTL_HOURS"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogDest   string `mapstructure:"LOG_DEST"`

	RateLimitRPS         float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int     `mapstructure:"RATE_LIMIT_BURST"`
	StrictRateLimitRPS   float64 `mapstructure:"STRICT_RATE_LIMIT_RPS"`
	StrictRateLimitBurst int     `mapstructure:"STRICT_RATE_LIMIT_BURST"`
}

// LoadConfig lee el .env si existe y luego el entorno. El DSN por defecto
// activa _txlock=immediate: las transacciones de escritura toman el lock al
// abrirse y el chequeo de conflicto queda serializado con el insert.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("PORT", 8080)
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_DSN", "file:inmotech.db?_txlock=immediate&_foreign_keys=on&_busy_timeout=5000")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_TTL_HOURS", 24)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_DEST", "stdout")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("STRICT_RATE_LIMIT_RPS", 10)
	v.SetDefault("STRICT_RATE_LIMIT_BURST", 20)

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("leyendo configuración: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decodificando configuración: %w", err)
	}
	if cfg.IsProduction() && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET es obligatorio en producción")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-no-usar-en-produccion"
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
