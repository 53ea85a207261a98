package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spectra_config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `{
	"accounts": [
		{"identifier": "main", "api_id": 12345, "api_hash": "hash", "phone_number": "+10000000000"}
	]
}`

func TestLoadConfigFillsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig("", writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}

	if got := cfg.DatabasePath(); got != "data/spectra.db" {
		t.Fatalf("DatabasePath() = %q", got)
	}
	if got := cfg.GroupingStrategy(); got != "none" {
		t.Fatalf("GroupingStrategy() = %q", got)
	}
	if got := cfg.Organization().Mode; got != "disabled" {
		t.Fatalf("Organization().Mode = %q", got)
	}
	if got := cfg.Organization().GeneralTopicTitle; got != "General Discussion" {
		t.Fatalf("GeneralTopicTitle = %q", got)
	}
	if got := cfg.Organization().TopicCreationCooldownSeconds; got != 30 {
		t.Fatalf("TopicCreationCooldownSeconds = %d", got)
	}
	accs := cfg.Accounts()
	if len(accs) != 1 || accs[0].SessionFile == "" {
		t.Fatalf("Accounts() = %+v, want defaulted session file", accs)
	}
	if len(cfg.Warnings()) == 0 {
		t.Fatal("expected warnings about defaulted values")
	}
}

func TestLoadConfigRejectsBrokenDocuments(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{name: "noAccounts", body: `{"accounts": []}`},
		{name: "missingAPICreds", body: `{"accounts": [{"identifier": "x"}]}`},
		{name: "badGrouping", body: `{"accounts": [{"identifier": "x", "api_id": 1, "api_hash": "h"}], "grouping": {"strategy": "magic"}}`},
		{name: "badProxyType", body: `{"accounts": [{"identifier": "x", "api_id": 1, "api_hash": "h"}], "proxy": {"enabled": true, "type": "carrier-pigeon", "host": "p", "port": 1080}}`},
		{name: "proxyWithoutHost", body: `{"accounts": [{"identifier": "x", "api_id": 1, "api_hash": "h"}], "proxy": {"enabled": true, "type": "socks5"}}`},
		{name: "badTimezone", body: `{"accounts": [{"identifier": "x", "api_id": 1, "api_hash": "h"}], "timezone": "Mars/Olympus"}`},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := loadConfig("", writeConfig(t, tc.body)); err == nil {
				t.Fatal("loadConfig() should have failed")
			}
		})
	}
}

func TestEnvOverridesWinOverDocument(t *testing.T) {
	body := `{"accounts": [{"identifier": "main", "api_id": 1, "api_hash": "doc", "phone_number": "+1"}]}`
	t.Setenv("SPECTRA_ACCOUNT_MAIN_API_HASH", "from-env")
	t.Setenv("SPECTRA_ACCOUNT_MAIN_PHONE", "+2")

	cfg, err := loadConfig("", writeConfig(t, body))
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	acc := cfg.Accounts()[0]
	if acc.APIHash != "from-env" || acc.PhoneNumber != "+2" {
		t.Fatalf("account = %+v, want env overrides applied", acc)
	}
}

func TestParseLocation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		tz       string
		wantOffs int // смещение в секундах для полуночи UTC
	}{
		{name: "empty", tz: "", wantOffs: 0},
		{name: "utc", tz: "UTC", wantOffs: 0},
		{name: "plainOffset", tz: "+03:00", wantOffs: 3 * 3600},
		{name: "utcPrefixed", tz: "UTC+3", wantOffs: 3 * 3600},
		{name: "negative", tz: "-05:30", wantOffs: -(5*3600 + 30*60)},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := &Config{doc: Document{Timezone: tc.tz}}
			loc, err := c.parseLocation()
			if err != nil {
				t.Fatalf("parseLocation(%q) error: %v", tc.tz, err)
			}
			_, offs := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).In(loc).Zone()
			if offs != tc.wantOffs {
				t.Fatalf("offset for %q = %d, want %d", tc.tz, offs, tc.wantOffs)
			}
		})
	}
}

func TestForwardingAndAttributionBlocks(t *testing.T) {
	t.Parallel()

	body := `{
		"accounts": [{"identifier": "main", "api_id": 1, "api_hash": "h"}],
		"forwarding": {
			"forward_with_attribution": true,
			"enable_deduplication": true,
			"default_destination_id": -1001,
			"secondary_unique_destination": -1002
		},
		"attribution": {
			"template": "[{source_channel_name}]",
			"timestamp_format": "2006-01-02",
			"disable_attribution_for_groups": [-1003]
		}
	}`
	cfg, err := loadConfig("", writeConfig(t, body))
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}

	fwd := cfg.Forwarding()
	if !fwd.ForwardWithAttribution || !fwd.EnableDeduplication {
		t.Fatalf("Forwarding() = %+v", fwd)
	}
	if fwd.DefaultDestinationID != -1001 || fwd.SecondaryUniqueDestination != -1002 {
		t.Fatalf("Forwarding() destinations = %+v", fwd)
	}
	att := cfg.Attribution()
	if att.Template != "[{source_channel_name}]" || len(att.DisableForDests) != 1 {
		t.Fatalf("Attribution() = %+v", att)
	}
	if !cfg.EnableDeduplication() {
		t.Fatal("EnableDeduplication() = false")
	}
}
