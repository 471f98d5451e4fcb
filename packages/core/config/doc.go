// Package config loads vptest settings from a YAML file.
//
// Config files are searched in the working directory in this order:
// .vptest.yaml, .vptest.yml, vptest.yaml. Missing files yield
// DefaultConfig. Command-line flags are merged on top with Merge.
package config
