package database

import (
	"fmt"
	"strings"
)

// ConstructDatabaseURL appends databaseName to baseURL as the path, keeping any query parameters,
// and defaults sslmode to disable. An empty databaseName returns baseURL untouched.
func ConstructDatabaseURL(baseURL, databaseName string) string {
	if databaseName == "" {
		return baseURL
	}

	base, query, hasQuery := strings.Cut(baseURL, "?")
	databaseURL := fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), databaseName)
	if hasQuery {
		databaseURL += "?" + query
	}

	if strings.Contains(databaseURL, "sslmode=") {
		return databaseURL
	}
	if hasQuery {
		return databaseURL + "&sslmode=disable"
	}
	return databaseURL + "?sslmode=disable"
}
