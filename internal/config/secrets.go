package config

import "net/url"

const redacted = "***"

// RedactedConfig returns a copy of cfg safe to log: credentials in the
// PostgreSQL DSN and Redis URL are masked.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Postgres.DSN = redactURL(cfg.Postgres.DSN)
	out.Redis.URL = redactURL(cfg.Redis.URL)
	return out
}

// redactURL masks the password of a URL-form DSN as "xxxxx". Anything that
// does not parse as a URL with a scheme is masked whole.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return redacted
	}
	return u.Redacted()
}
