package config

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	logx "supernotify/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus
// safe structured attrs for logging. Secrets (tokens, API keys) are never
// included; only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.API.Addr != newCfg.API.Addr ||
		(oldCfg.API.Token != "") != (newCfg.API.Token != "") ||
		oldCfg.API.ReadTimeout != newCfg.API.ReadTimeout ||
		oldCfg.API.WriteTimeout != newCfg.API.WriteTimeout ||
		oldCfg.API.IdleTimeout != newCfg.API.IdleTimeout {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.String("api.addr", newCfg.API.Addr),
			logx.Bool("api.token_set", newCfg.API.Token != ""))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled))
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)))
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.dedup_window", newCfg.Engine.DedupWindow),
			logx.Int("engine.dedup_max_entries", newCfg.Engine.DedupMaxEntries),
			logx.String("engine.dispatch_timeout", newCfg.Engine.DispatchTimeout))
	}

	if oldCfg.Housekeeping != newCfg.Housekeeping {
		changed = append(changed, "housekeeping")
	}

	oldStorage, newStorage := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldStorage.Driver != newStorage.Driver ||
		(oldStorage.Path != "") != (newStorage.Path != "") ||
		oldStorage.BusyTimeout != newStorage.BusyTimeout {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newStorage.Driver),
			logx.Bool("storage.path_set", newStorage.Path != ""))
	}

	if (oldCfg.Senders.ResendAPIKey != "") != (newCfg.Senders.ResendAPIKey != "") ||
		(oldCfg.Senders.TelegramToken != "") != (newCfg.Senders.TelegramToken != "") ||
		oldCfg.Senders.BridgeURL != newCfg.Senders.BridgeURL {
		changed = append(changed, "senders")
	}

	if !reflect.DeepEqual(oldCfg.Recipients, newCfg.Recipients) {
		changed = append(changed, "recipients")
		attrs = append(attrs, logx.Int("recipients.count", len(newCfg.Recipients)))
	}
	if hashSection(oldCfg.Channels) != hashSection(newCfg.Channels) {
		changed = append(changed, "channels")
		attrs = append(attrs, logx.Int("channels.count", len(newCfg.Channels)))
	}
	if hashSection(oldCfg.Scenarios) != hashSection(newCfg.Scenarios) {
		changed = append(changed, "scenarios")
		attrs = append(attrs, logx.Int("scenarios.count", len(newCfg.Scenarios)))
	}
	if !reflect.DeepEqual(oldCfg.States, newCfg.States) {
		changed = append(changed, "states")
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

// hashSection hashes a section through its JSON form; sections with maps
// and nested structs are awkward to compare field by field.
func hashSection(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}
