package domain

import (
	"fmt"
	"strings"
)

// AppConfig is the user's display configuration chosen during setup.
type AppConfig struct {
	AppName  string `json:"appName"`
	Currency string `json:"currency"`
	Locale   string `json:"locale"`
}

// ConnectionConfig points the client at a deployed Apps Script endpoint and
// the spreadsheet behind it. Neither field is checked locally beyond being
// present; a live connection test is the only validation.
type ConnectionConfig struct {
	EndpointURL   string `json:"endpointUrl"`
	SpreadsheetID string `json:"spreadsheetId"`
}

// Complete reports whether both fields are set.
func (c ConnectionConfig) Complete() bool {
	return strings.TrimSpace(c.EndpointURL) != "" && strings.TrimSpace(c.SpreadsheetID) != ""
}

// UserPreferences holds optional settings that are not part of setup.
type UserPreferences struct {
	Language             string `json:"language,omitempty"`
	Theme                string `json:"theme,omitempty"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
}

// Currency is a supported display currency.
type Currency struct {
	Code   string `json:"code"`
	Symbol string `json:"symbol"`
}

// SupportedCurrencies lists the currencies offered during setup.
var SupportedCurrencies = []Currency{
	{Code: "USD", Symbol: "$"},
	{Code: "EUR", Symbol: "€"},
	{Code: "GBP", Symbol: "£"},
	{Code: "JPY", Symbol: "¥"},
	{Code: "BRL", Symbol: "R$"},
}

var currencyLocales = map[string][]string{
	"USD": {"en-US"},
	"EUR": {"en-US", "pt-BR", "es-ES", "fr-FR"},
	"GBP": {"en-US"},
	"JPY": {"ja-JP"},
	"BRL": {"pt-BR"},
}

// DefaultAppConfig is used when nothing has been configured yet.
var DefaultAppConfig = AppConfig{
	AppName:  "My Wallet",
	Currency: "BRL",
	Locale:   "pt-BR",
}

// LocalesForCurrency returns the locales offered for a currency code,
// falling back to en-US for unknown codes.
func LocalesForCurrency(code string) []string {
	if locales, ok := currencyLocales[strings.ToUpper(code)]; ok {
		out := make([]string, len(locales))
		copy(out, locales)
		return out
	}
	return []string{"en-US"}
}

// Normalized trims the fields and upper-cases the currency code.
func (c AppConfig) Normalized() AppConfig {
	c.AppName = strings.TrimSpace(c.AppName)
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	c.Locale = strings.TrimSpace(c.Locale)
	return c
}

// Validate checks that the app name is set and the currency/locale pair is
// one offered during setup. Currency codes match case-insensitively.
func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.AppName) == "" {
		return fmt.Errorf("app name is required")
	}
	if _, ok := currencyLocales[strings.ToUpper(c.Currency)]; !ok {
		return fmt.Errorf("unsupported currency: %q", c.Currency)
	}
	for _, l := range LocalesForCurrency(c.Currency) {
		if l == c.Locale {
			return nil
		}
	}
	return fmt.Errorf("locale %q is not available for currency %s", c.Locale, c.Currency)
}
