package grvt

import (
	"strconv"
	"strings"
)

// Формат сводки счёта у GRVT менялся между версиями API, поэтому equity
// ищется упорядоченным списком стратегий: первая успешная побеждает.
// Порядок фиксирован и подкреплён тестами по формам ответа.
var equityStrategies = []func(map[string]interface{}) (float64, bool){
	equityFromTopLevel,
	equityFromResult,
	equityFromPortfolioValue,
	equityFromSpotBalances,
}

func ExtractEquityUSDT(payload map[string]interface{}) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	for _, strategy := range equityStrategies {
		if value, ok := strategy(payload); ok {
			return value, true
		}
	}
	return 0, false
}

func equityFromTopLevel(payload map[string]interface{}) (float64, bool) {
	return positiveNumber(payload["total_equity"])
}

func equityFromResult(payload map[string]interface{}) (float64, bool) {
	result, ok := payload["result"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	return positiveNumber(result["total_equity"])
}

func equityFromPortfolioValue(payload map[string]interface{}) (float64, bool) {
	result, ok := payload["result"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	return positiveNumber(result["portfolio_value"])
}

func equityFromSpotBalances(payload map[string]interface{}) (float64, bool) {
	container := payload
	if result, ok := payload["result"].(map[string]interface{}); ok {
		container = result
	}
	balances, ok := container["spot_balances"].([]interface{})
	if !ok {
		return 0, false
	}

	total := 0.0
	found := false
	for _, item := range balances {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		currency, _ := entry["currency"].(string)
		if !strings.EqualFold(currency, "USDT") {
			continue
		}
		if value, ok := positiveNumber(entry["balance"]); ok {
			total += value
			found = true
		}
	}
	return total, found
}

// positiveNumber принимает и число, и строку — GRVT кодирует суммы строками.
func positiveNumber(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		if v > 0 {
			return v, true
		}
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err == nil && parsed > 0 {
			return parsed, true
		}
	}
	return 0, false
}
