package platform

import (
	"encoding/json"
	"strconv"
)

// GraphInsights — ответ /insights Graph API (Instagram и Facebook).
type GraphInsights struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value json.RawMessage `json:"value"`
		} `json:"values"`
		TotalValue *struct {
			Value json.RawMessage `json:"value"`
		} `json:"total_value"`
	} `json:"data"`
}

// Value возвращает числовое значение метрики name или 0.
// Нечисловые значения (объекты с разбивкой) пропускаются.
func (g GraphInsights) Value(name string) int64 {
	for _, d := range g.Data {
		if d.Name != name {
			continue
		}
		if d.TotalValue != nil {
			if n, ok := parseCount(d.TotalValue.Value); ok {
				return n
			}
		}
		if len(d.Values) > 0 {
			if n, ok := parseCount(d.Values[len(d.Values)-1].Value); ok {
				return n
			}
		}
	}
	return 0
}

// Raw собирает все числовые метрики в map для PlatformAnalytics.Raw.
func (g GraphInsights) Raw() map[string]any {
	out := make(map[string]any, len(g.Data))
	for _, d := range g.Data {
		out[d.Name] = g.Value(d.Name)
	}
	return out
}

func parseCount(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
