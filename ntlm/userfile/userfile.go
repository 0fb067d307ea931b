// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

// Package userfile loads the NTLM_USER_FILE credential store and the
// LM_COMPAT_LEVEL compatibility setting, the two configuration collaborators
// the core consults through its host process rather than owning itself.
package userfile

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sematext/go-ntlm/ntlm"
)

// Entry is one (domain, user, password) row of NTLM_USER_FILE.
type Entry struct {
	Domain   string
	User     string
	Password string
}

// Store is a loaded NTLM_USER_FILE, looked up by (domain, user).
type Store struct {
	entries []Entry
}

// Load reads NTLM_USER_FILE-formatted lines from r: colon-separated
// DOMAIN:USER:PASSWORD, empty fields allowed, '#'-prefixed lines and blank
// lines ignored.
func Load(r io.Reader) (*Store, error) {
	s := &Store{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.SplitN(line, ":", 3)
		for len(fields) < 3 {
			fields = append(fields, "")
		}
		s.entries = append(s.entries, Entry{Domain: fields[0], User: fields[1], Password: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFromEnv reads the file named by the NTLM_USER_FILE environment
// variable. An unset variable is not an error: it returns an empty Store,
// since the credential may instead arrive directly via SetUserInfo.
func LoadFromEnv() (*Store, error) {
	path := os.Getenv("NTLM_USER_FILE")
	if path == "" {
		return &Store{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Lookup returns the password for (domain, user) and whether it was found.
// Matching is case-insensitive on domain and user, as Windows treats both.
func (s *Store) Lookup(domain, user string) (string, bool) {
	for _, e := range s.entries {
		if strings.EqualFold(e.Domain, domain) && strings.EqualFold(e.User, user) {
			return e.Password, true
		}
	}
	return "", false
}

// CompatLevel reads LM_COMPAT_LEVEL from the environment, defaulting to 3
// (NTLMv2 only) when unset. Values outside 0..5 are a configuration error.
func CompatLevel() (int, error) {
	raw := os.Getenv("LM_COMPAT_LEVEL")
	if raw == "" {
		return 3, nil
	}
	level, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ntlm.NewConfigError("LM_COMPAT_LEVEL is not an integer")
	}
	if level < 0 || level > 5 {
		return 0, ntlm.NewConfigError("LM_COMPAT_LEVEL must be between 0 and 5")
	}
	return level, nil
}

// PreferNTLMv2 reports whether a given LM_COMPAT_LEVEL requires NTLMv2-only
// behavior (3 and above force NTLMv2 only; 0 enables LMv1/NTLMv1).
func PreferNTLMv2(level int) bool {
	return level >= 3
}
