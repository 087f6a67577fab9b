// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package logservice owns the migrator's log streams. Each run writes a
// set of files named after the org, the operation, and the run's ecid
// (execution correlation id), so concurrent runs against the same org
// never interleave:
//
//	{org}-{operation}-{ecid}-migrator.log   everything at the configured level
//	{org}-{operation}-{ecid}-errors.log     warn and above
//	{org}-{operation}-{ecid}-audit.log      per-entity outcome records
//
// A console core mirrors the general stream to stdout when enabled.
package logservice

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config describes one run's log destination and verbosity.
type Config struct {
	// Dir is the directory the log files are written into.
	Dir string `koanf:"dir"`
	// Level is the general stream's minimum level: debug, info, warn, error.
	Level string `koanf:"level"`
	// Console mirrors the general stream to stdout.
	Console bool `koanf:"console"`

	// Org, Operation, and ECID name the run and thus the log files.
	Org       string
	Operation string
	ECID      string
}

// Service bundles the run's log streams.
type Service struct {
	// General is the main application log.
	General *zap.Logger
	// Audit records one structured entry per entity outcome.
	Audit *zap.Logger

	files []*os.File
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zap.DebugLevel
	case "", "info":
		return zap.InfoLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	}
	return zap.InfoLevel
}

// New opens the run's log files and builds the streams. Every entry
// carries the run's ecid field.
func New(cfg Config) (*Service, error) {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	s := &Service{}
	prefix := fmt.Sprintf("%s-%s-%s", cfg.Org, cfg.Operation, cfg.ECID)

	open := func(suffix string) (*os.File, error) {
		f, err := os.OpenFile(
			filepath.Join(cfg.Dir, prefix+suffix),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("open log file: %w", err)
		}
		s.files = append(s.files, f)
		return f, nil
	}

	generalFile, err := open("-migrator.log")
	if err != nil {
		return nil, err
	}
	errorFile, err := open("-errors.log")
	if err != nil {
		return nil, err
	}
	auditFile, err := open("-audit.log")
	if err != nil {
		return nil, err
	}

	jsonEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(jsonEnc, zapcore.AddSync(generalFile), parseLevel(cfg.Level)),
		zapcore.NewCore(jsonEnc, zapcore.AddSync(errorFile), zap.WarnLevel),
	}
	if cfg.Console {
		consoleEnc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(consoleEnc, zapcore.AddSync(os.Stdout), parseLevel(cfg.Level)))
	}
	ecid := zap.String("ecid", cfg.ECID)
	s.General = zap.New(zapcore.NewTee(cores...)).With(ecid)
	s.Audit = zap.New(zapcore.NewCore(jsonEnc, zapcore.AddSync(auditFile), zap.InfoLevel)).With(ecid)
	return s, nil
}

// Sync flushes all streams and closes the files.
func (s *Service) Sync() {
	if s.General != nil {
		_ = s.General.Sync()
	}
	if s.Audit != nil {
		_ = s.Audit.Sync()
	}
	s.close()
}

func (s *Service) close() {
	for _, f := range s.files {
		_ = f.Close()
	}
	s.files = nil
}
