package config

// Defaults shared with the components they configure.
const (
	DefaultZone            = "Asia/Tokyo"
	DefaultDeadlineSeconds = 600
	DefaultPoolSize        = 4
	DefaultQueueSize       = 100
	DefaultEnvFile         = ".env"
)
