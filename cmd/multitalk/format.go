package main

import (
	"strconv"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"multitalk/internal/config"
	"multitalk/internal/store"
)

func planTitle(plan store.Plan) string {
	if plan == "" {
		return "-"
	}
	return cases.Title(language.English).String(string(plan))
}

func formatBalance(balance int64) string {
	if balance >= config.UnlimitedBalance {
		return "unlimited"
	}
	return strconv.FormatInt(balance, 10)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
