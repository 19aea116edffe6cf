package checkup

import (
	domain "github.com/webcheckup/webcheckup/internal/domain/checkup"
)

// ReduceForSummary shrinks payloads that are too large or noisy for
// summarization. Only lighthouse and network reports get reduced; every
// other payload goes to the summarizer as-is. The stored result is always
// the original, unreduced payload.
func ReduceForSummary(checkType domain.CheckType, payload map[string]any) map[string]any {
	switch checkType {
	case domain.TypeLighthouse:
		return reduceLighthouseReport(payload)
	case domain.TypeNetwork:
		return reduceNetworkReport(payload)
	}
	return payload
}

// reduceLighthouseReport keeps each audit's title, score, and finding items.
func reduceLighthouseReport(report map[string]any) map[string]any {
	audits, _ := report["audits"].(map[string]any)
	reduced := make(map[string]any, len(audits))

	for _, raw := range audits {
		audit, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		title, _ := audit["title"].(string)
		if title == "" {
			continue
		}

		var items any = ""
		if details, ok := audit["details"].(map[string]any); ok {
			if detailItems, ok := details["items"]; ok {
				items = detailItems
			}
		}

		score := audit["score"]
		if score == nil {
			score = ""
		}
		reduced[title] = map[string]any{
			"score": score,
			"items": items,
		}
	}
	return reduced
}

// reduceNetworkReport drops raw command transcripts, keeping pass, fail,
// warning, and timeout names with their messages.
func reduceNetworkReport(report map[string]any) map[string]any {
	results, _ := report["results"].(map[string]any)
	minimized := make([]any, 0, len(results))

	for commandName, raw := range results {
		commandResult, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		status, _ := commandResult["status"].(string)
		if status != "success" {
			minimized = append(minimized, map[string]any{
				"CheckName": commandName,
				"Status":    status,
				"Error":     commandResult["error"],
			})
			continue
		}

		data, _ := commandResult["data"].(map[string]any)
		entry := map[string]any{
			"CheckName": commandName,
			"Status":    status,
		}
		if failed := itemInfoByName(data["Failed"]); len(failed) > 0 {
			entry["Failed"] = failed
		}
		if warnings := itemInfoByName(data["Warnings"]); len(warnings) > 0 {
			entry["Warnings"] = warnings
		}
		if passed := itemNames(data["Passed"]); len(passed) > 0 {
			entry["Passed"] = passed
		}
		if timeouts := itemNames(data["Timeouts"]); len(timeouts) > 0 {
			entry["Timeouts"] = timeouts
		}
		minimized = append(minimized, entry)
	}

	return map[string]any{
		"timestamp": report["timestamp"],
		"target":    report["target"],
		"results":   minimized,
	}
}

func itemInfoByName(raw any) map[string]any {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	byName := make(map[string]any, len(items))
	for _, entry := range items {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, _ := item["Name"].(string)
		byName[name] = item["Info"]
	}
	return byName
}

func itemNames(raw any) []any {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	names := make([]any, 0, len(items))
	for _, entry := range items {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		names = append(names, item["Name"])
	}
	return names
}
