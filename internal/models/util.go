package models

import (
	"strconv"
	"strings"
)

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), strings.TrimSpace(value)) {
			return true
		}
	}
	return false
}
