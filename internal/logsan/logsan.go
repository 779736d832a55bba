// Package logsan redacts credential-shaped substrings from log output
// before it is emitted, masking secrets matching known credential
// patterns.
package logsan

import (
	"regexp"

	"go.uber.org/zap/zapcore"
)

const mask = "***REDACTED***"

// patterns matches the credential shapes this system actually handles:
// GitHub/Gitea personal access tokens, bearer/basic auth headers, and
// generic key=value secrets (token, password, api_key, webhook_url
// query strings).
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`gh[ps]_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`(?i)basic\s+[A-Za-z0-9+/]+=*`),
	regexp.MustCompile(`(?i)(token|password|secret|api[_-]?key)\s*[=:]\s*\S+`),
	regexp.MustCompile(`(?i)(https?://)[^/\s:@]+:[^/\s@]+@`),
}

// Redact masks every known credential pattern in s.
func Redact(s string) string {
	for _, p := range patterns {
		s = p.ReplaceAllStringFunc(s, func(match string) string {
			if loc := p.FindStringSubmatchIndex(match); len(loc) > 2 {
				// Preserve a captured key name (e.g. "token=") when the
				// pattern has one, so logs stay legible about *what*
				// was redacted.
				if loc[2] >= 0 && loc[3] >= 0 {
					return match[:loc[3]] + mask
				}
			}
			return mask
		})
	}
	return s
}

// Core wraps a zapcore.Core, redacting the log message and every string
// field before delegating to the wrapped core.
type Core struct {
	zapcore.Core
}

// Wrap returns a Core that redacts through inner.
func Wrap(inner zapcore.Core) zapcore.Core {
	return &Core{Core: inner}
}

func (c *Core) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *Core) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = Redact(entry.Message)
	redacted := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.StringType {
			f.String = Redact(f.String)
		}
		redacted[i] = f
	}
	return c.Core.Write(entry, redacted)
}

func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	return &Core{Core: c.Core.With(fields)}
}
