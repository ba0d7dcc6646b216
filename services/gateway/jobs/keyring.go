// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"

	"github.com/AleutianAI/AleutianEval/pkg/extensions"
)

// MinMlockLimitKB is the locked-memory limit below which memguard may fail
// to lock enclave pages.
const MinMlockLimitKB = 512

var memguardInitOnce sync.Once

// initMemguard installs memguard's interrupt handler and reports the mlock
// limit once per process.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		sufficient, limitKB := checkMlockLimit()
		if sufficient {
			slog.Debug("Secure key storage initialized", "mlock_limit_kb", limitKB)
			return
		}
		slog.Warn("mlock limit is low; API keys held for job polling may be swappable",
			"mlock_limit_kb", limitKB,
			"required_kb", MinMlockLimitKB,
		)
	})
}

// checkMlockLimit returns whether RLIMIT_MEMLOCK is at least MinMlockLimitKB
// and the current limit in KB (-1 when unlimited or unknown).
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// Keyring holds API keys in encrypted memguard enclaves, indexed by
// fingerprint. Keys are only decrypted for the duration of a backend call.
//
// Thread Safety: Safe for concurrent use.
type Keyring struct {
	mu       sync.RWMutex
	enclaves map[string]sealedKey
}

type sealedKey struct {
	enclave *memguard.Enclave
	addedAt time.Time
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	initMemguard()
	return &Keyring{enclaves: make(map[string]sealedKey)}
}

// Put seals apiKey and returns its fingerprint. An empty key is ignored.
func (k *Keyring) Put(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	fp := extensions.Fingerprint(apiKey)

	k.mu.Lock()
	defer k.mu.Unlock()
	if sealed, ok := k.enclaves[fp]; ok {
		sealed.addedAt = time.Now()
		k.enclaves[fp] = sealed
		return fp
	}
	// NewEnclave wipes its input, so hand it a private copy.
	k.enclaves[fp] = sealedKey{enclave: memguard.NewEnclave([]byte(apiKey)), addedAt: time.Now()}
	return fp
}

// Get decrypts the key for fingerprint.
func (k *Keyring) Get(fingerprint string) (string, bool) {
	k.mu.RLock()
	sealed, ok := k.enclaves[fingerprint]
	k.mu.RUnlock()
	if !ok {
		return "", false
	}

	buf, err := sealed.enclave.Open()
	if err != nil {
		slog.Warn("Failed to open key enclave", "key_fingerprint", fingerprint, "error", err)
		return "", false
	}
	defer buf.Destroy()
	return string(buf.Bytes()), true
}

// Has reports whether a key is held for fingerprint.
func (k *Keyring) Has(fingerprint string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.enclaves[fingerprint]
	return ok
}

// Retain drops every key whose fingerprint is not in keep and that was last
// put before cutoff. Keys put after cutoff belong to jobs a concurrent
// caller is still registering.
func (k *Keyring) Retain(keep map[string]bool, cutoff time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	dropped := 0
	for fp, sealed := range k.enclaves {
		if !keep[fp] && sealed.addedAt.Before(cutoff) {
			delete(k.enclaves, fp)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of held keys.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.enclaves)
}

// PurgeSecureMemory wipes every memguard allocation in the process.
// Call once during shutdown; keyrings are unusable afterwards.
func PurgeSecureMemory() {
	memguard.Purge()
}
