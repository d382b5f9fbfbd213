// Package config loads the configuration shared by the publisher and
// subscriber binaries.
//
// Loading starts from Default, merges each file layer (JSON or YAML chosen by
// extension, durations written as "10s" or "14d"), applies SEMTRUST_*
// environment overrides and finally validates:
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.yaml")
//	loader.AddLayer("config/local.json") // overrides base
//	cfg, err := loader.Load()
//
// Validation errors wrap errors.ErrInvalidConfig and are fatal. The resulting
// *Config is built once at startup and passed into constructors. PushToKV
// publishes a redacted copy to the SEMTRUST_CONFIG bucket when NATS is in use.
package config
