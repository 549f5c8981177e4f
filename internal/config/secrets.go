package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log. Credentials are
// replaced with "***"; URLs keep their host so the log still shows where the
// service connects.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Store.DSN = redactURL(out.Store.DSN)
	redact(&out.Store.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	out.Notify.DiscordWebhookURL = redactWebhook(out.Notify.DiscordWebhookURL)

	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Reconcile.ExcludedExchanges = slices.Clone(cfg.Reconcile.ExcludedExchanges)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL masks the password of a postgres:// style DSN. Anything that is
// not a URL with a host (key=value DSNs included) is masked entirely.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	u.RawQuery = ""
	return u.Redacted()
}

// redactWebhook keeps the webhook host and drops the path, which holds the
// webhook token.
func redactWebhook(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	return u.Scheme + "://" + u.Host + "/" + redacted
}

