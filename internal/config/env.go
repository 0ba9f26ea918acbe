package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SLOTWATCH_"

// The env helpers report whether they assigned dst.

func envString(name string, dst *string) bool {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return false
	}
	*dst = val
	return true
}

func envDuration(name string, dst *time.Duration) bool {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return false
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("Warning: ignoring %s%s=%q: %v", EnvPrefix, name, val, err)
		return false
	}
	*dst = d
	return true
}

func envInt(name string, dst *int) bool {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return false
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("Warning: ignoring %s%s=%q: %v", EnvPrefix, name, val, err)
		return false
	}
	*dst = n
	return true
}

func envBool(name string, dst *bool) bool {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return false
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		log.Printf("Warning: ignoring %s%s=%q: %v", EnvPrefix, name, val, err)
		return false
	}
	*dst = b
	return true
}
