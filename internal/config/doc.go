// Package config provides configuration loading and validation for the live
// transcription service. Settings come from a YAML file, optional .env files
// and environment variables, in increasing order of precedence.
package config
