// Package config reads the server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/korjavin/productinsight/internal/auth"
	"github.com/korjavin/productinsight/internal/store"
)

// Config is the server configuration.
type Config struct {
	Port    string
	DataDir string
	// ScanDir holds the scan history database and image store.
	ScanDir    string
	ModelPath  string
	ORTLibrary string
	// OCRURL is the recognition endpoint; empty disables image analysis.
	OCRURL           string
	OCRRPS           float64
	APIKeys          []string
	CORSOrigins      string
	RateLimitRPS     float64
	RateLimitBurst   int
	InferenceWorkers int
}

// TablePath is the reference table inside DataDir.
func (c Config) TablePath() string {
	return filepath.Join(c.DataDir, store.TableFile)
}

// Load builds a Config from getenv (os.Getenv in production). All problems
// are reported together.
func Load(getenv func(string) string) (Config, error) {
	c := Config{
		Port:        getenv("PORT"),
		DataDir:     getenv("DATA_DIR"),
		ScanDir:     getenv("SCAN_DIR"),
		ModelPath:   getenv("MODEL_PATH"),
		ORTLibrary:  getenv("ORT_LIBRARY"),
		OCRURL:      getenv("OCR_URL"),
		APIKeys:     auth.ParseAPIKeys(getenv("API_KEYS")),
		CORSOrigins: getenv("CORS_ORIGINS"),
	}
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.CORSOrigins == "" {
		c.CORSOrigins = "*"
	}

	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("DATA_DIR is required"))
	}
	if c.ModelPath == "" {
		errs = append(errs, errors.New("MODEL_PATH is required"))
	}
	if c.ScanDir == "" && c.DataDir != "" {
		c.ScanDir = filepath.Join(c.DataDir, "scans")
	}

	var err error
	if c.RateLimitRPS, err = floatVar(getenv, "RATE_LIMIT_RPS", 100); err != nil {
		errs = append(errs, err)
	}
	if c.RateLimitBurst, err = intVar(getenv, "RATE_LIMIT_BURST", 20); err != nil {
		errs = append(errs, err)
	}
	if c.InferenceWorkers, err = intVar(getenv, "INFERENCE_WORKERS", 4); err != nil {
		errs = append(errs, err)
	}
	if c.OCRRPS, err = floatVar(getenv, "OCR_RPS", 2); err != nil {
		errs = append(errs, err)
	}
	return c, errors.Join(errs...)
}

func floatVar(getenv func(string) string, name string, def float64) (float64, error) {
	s := strings.TrimSpace(getenv(name))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return def, fmt.Errorf("%s: want a positive number, got %q", name, s)
	}
	return v, nil
}

func intVar(getenv func(string) string, name string, def int) (int, error) {
	s := strings.TrimSpace(getenv(name))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def, fmt.Errorf("%s: want a positive integer, got %q", name, s)
	}
	return v, nil
}
