// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets stores API keys and other credentials in locked,
// encrypted memory. Values resolve from the environment first and from
// container secret files second, the same order runtime deployments
// mount them in.
package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

const (
	// DefaultDir is where container runtimes mount file-based secrets.
	DefaultDir = "/run/secrets"

	// minMlockKB is the locked-memory floor for holding a handful of
	// API keys. Far below the kernel default on any modern distro.
	minMlockKB = 64

	// insecureEnv opts into plain heap storage when RLIMIT_MEMLOCK is
	// too low to lock pages (development containers, mostly).
	insecureEnv = "FLOW_INSECURE_MEMORY"
)

var (
	initOnce     sync.Once
	mlockOK      bool
	mlockLimitKB int64
)

// initSecureMemory arms memguard's interrupt hook and records whether
// the process may lock enough memory for enclave storage.
func initSecureMemory() {
	initOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockOK, mlockLimitKB = checkMlockLimit()
	})
}

func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("could not determine mlock limit", slog.String("error", err.Error()))
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= minMlockKB, limitKB
}

// ===== Store =====

// Store resolves and caches named secrets.
//
// Description:
//
//	Each secret lives in a memguard enclave: encrypted at rest in
//	memory, decrypted into a locked buffer only inside WithValue, and
//	wiped when the callback returns. A store built with WithInsecure
//	(or running under FLOW_INSECURE_MEMORY=true on a host that cannot
//	lock pages) keeps plain copies instead.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	dir      string
	insecure bool
	enclaves map[string]*memguard.Enclave
	plain    map[string][]byte
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithDir overrides the secrets directory searched after the
// environment.
func WithDir(dir string) Option {
	return func(s *Store) { s.dir = dir }
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithInsecure forces plain heap storage. Tests use this to stay
// independent of the host's mlock configuration.
func WithInsecure() Option {
	return func(s *Store) { s.insecure = true }
}

// NewStore builds a secret store.
//
// Outputs:
//   - *Store: Ready for lookups; nothing is resolved eagerly.
//   - error: ErrMlockLimit when the host cannot lock memory and neither
//     WithInsecure nor FLOW_INSECURE_MEMORY=true allows falling back.
func NewStore(opts ...Option) (*Store, error) {
	initSecureMemory()

	s := &Store{
		dir:      DefaultDir,
		enclaves: make(map[string]*memguard.Enclave),
		plain:    make(map[string][]byte),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if !s.insecure && !mlockOK {
		if os.Getenv(insecureEnv) == "true" {
			s.insecure = true
			s.logger.Warn("SECURITY: storing secrets in unlocked memory",
				slog.Int64("mlock_limit_kb", mlockLimitKB),
				slog.Int64("required_kb", minMlockKB),
			)
		} else {
			return nil, fmt.Errorf("%w: have %d KB, need %d KB (set %s=true to override)",
				ErrMlockLimit, mlockLimitKB, minMlockKB, insecureEnv)
		}
	}
	return s, nil
}

// WithValue invokes fn with the secret's bytes.
//
// Description:
//
//	The value is resolved on first use and cached. The callback must
//	not retain the slice: for enclave-backed stores it points into a
//	locked buffer that is destroyed when WithValue returns.
//
// Inputs:
//   - name: Canonical secret name, e.g. "openai_api_key". Environment
//     lookup uses the upper-cased name, file lookup the lower-cased one.
//   - fn: Callback receiving the secret. Its error is returned as-is.
func (s *Store) WithValue(name string, fn func(value []byte) error) error {
	s.mu.RLock()
	enc := s.enclaves[name]
	plain, hasPlain := s.plain[name]
	s.mu.RUnlock()

	if enc == nil && !hasPlain {
		if err := s.load(name); err != nil {
			return err
		}
		s.mu.RLock()
		enc = s.enclaves[name]
		plain, hasPlain = s.plain[name]
		s.mu.RUnlock()
	}

	if hasPlain {
		return fn(plain)
	}
	buf, err := enc.Open()
	if err != nil {
		return fmt.Errorf("open secret %q: %w", name, err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Reveal returns a plain string copy of the secret for APIs that can
// only accept one. The copy escapes locked memory; prefer WithValue.
func (s *Store) Reveal(name string) (string, error) {
	var out string
	err := s.WithValue(name, func(v []byte) error {
		out = string(v)
		return nil
	})
	return out, err
}

// Has reports whether the secret resolves, loading it on first use.
func (s *Store) Has(name string) bool {
	err := s.WithValue(name, func([]byte) error { return nil })
	return err == nil
}

// Put stores value under name, displacing any resolved entry. The
// input slice is wiped when the store is enclave-backed.
func (s *Store) Put(name string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insecure {
		s.plain[name] = append([]byte(nil), value...)
		return
	}
	// NewEnclave wipes its input buffer after sealing.
	s.enclaves[name] = memguard.NewEnclave(value)
}

// Forget drops the cached entry for name. The next WithValue resolves
// it again.
func (s *Store) Forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.enclaves, name)
	if v, ok := s.plain[name]; ok {
		for i := range v {
			v[i] = 0
		}
		delete(s.plain, name)
	}
}

// Purge wipes every secret this process holds, including enclaves
// owned by other stores. Call during shutdown.
func (s *Store) Purge() {
	s.mu.Lock()
	s.enclaves = make(map[string]*memguard.Enclave)
	for _, v := range s.plain {
		for i := range v {
			v[i] = 0
		}
	}
	s.plain = make(map[string][]byte)
	s.mu.Unlock()
	memguard.Purge()
}

// load resolves name from the environment or the secrets directory and
// caches it.
func (s *Store) load(name string) error {
	if v, ok := os.LookupEnv(strings.ToUpper(name)); ok && v != "" {
		s.Put(name, []byte(v))
		s.logger.Debug("secret resolved from environment", slog.String("name", name))
		return nil
	}

	path := filepath.Join(s.dir, strings.ToLower(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %q (env %s, file %s)", ErrNotFound, name, strings.ToUpper(name), path)
	}
	s.Put(name, []byte(strings.TrimSpace(string(data))))
	s.logger.Info("secret resolved from file", slog.String("name", name), slog.String("path", path))
	return nil
}
