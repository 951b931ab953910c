package utils

import (
	"strconv"
	"strings"
)

func BuildCampsListCacheKey(limit, offset int, country *string) string {
	c := ""
	if country != nil {
		c = strings.ToLower(strings.TrimSpace(*country))
	}

	return "camps:list:v1:limit=" + strconv.Itoa(limit) +
		":offset=" + strconv.Itoa(offset) +
		":country=" + c
}
