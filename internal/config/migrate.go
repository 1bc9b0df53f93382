// SPDX-License-Identifier: MIT

package config

import "fmt"

// migration transforms a settings document from version n to n+1. Each step
// is a pure function of the previous document.
type migration struct {
	from  int
	apply func(map[string]any) map[string]any
}

var migrations = []migration{
	{from: 1, apply: migrateV1V2},
	{from: 2, apply: migrateV2V3},
}

// Migrate brings a loaded document up to SettingsVersion. The bool result
// reports whether any step ran.
func Migrate(doc map[string]any) (map[string]any, bool, error) {
	ver := intAt(doc, "version", 1)
	if ver > SettingsVersion {
		return nil, false, fmt.Errorf("settings version %d is newer than supported %d", ver, SettingsVersion)
	}
	migrated := false
	for ver < SettingsVersion {
		step := findMigration(ver)
		if step == nil {
			return nil, false, fmt.Errorf("no migration from settings version %d", ver)
		}
		doc = step.apply(doc)
		doc["version"] = ver + 1
		ver++
		migrated = true
	}
	return doc, migrated, nil
}

func findMigration(from int) *migration {
	for i := range migrations {
		if migrations[i].from == from {
			return &migrations[i]
		}
	}
	return nil
}

// migrateV1V2 moves server.api_key to api.api_key where v1 kept it.
func migrateV1V2(doc map[string]any) map[string]any {
	server, _ := doc["server"].(map[string]any)
	if server == nil {
		return doc
	}
	key, ok := server["api_key"].(string)
	if !ok {
		return doc
	}
	delete(server, "api_key")
	api, _ := doc["api"].(map[string]any)
	if api == nil {
		api = map[string]any{}
		doc["api"] = api
	}
	if _, exists := api["api_key"]; !exists {
		api["api_key"] = key
	}
	return doc
}

// migrateV2V3 introduces the orchestrator block, carrying over the old
// top-level jobs.enabled flag.
func migrateV2V3(doc map[string]any) map[string]any {
	if _, exists := doc["orchestrator"]; exists {
		return doc
	}
	orch := map[string]any{}
	if jobs, ok := doc["jobs"].(map[string]any); ok {
		if enabled, ok := jobs["enabled"].(bool); ok {
			orch["enable"] = enabled
		}
		delete(doc, "jobs")
	}
	doc["orchestrator"] = orch
	return doc
}

func intAt(doc map[string]any, key string, def int) int {
	switch v := doc[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
