package webapi

// Config carries the HTTP façade settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	HistoryLimit   int
}

// DefaultHistoryLimit caps wallet history when the config leaves it unset.
const DefaultHistoryLimit = 20
