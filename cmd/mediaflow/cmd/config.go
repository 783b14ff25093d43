package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/mediaflow/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing mediaflow configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

This shows all configuration options after defaults, config file, and
environment variables have been applied. Redirect the output to a file
to create a configuration template:

  mediaflow config dump > config.yaml

Environment variables use the MEDIAFLOW_ prefix and underscores for
nesting. Example: buffer.stall_timeout -> MEDIAFLOW_BUFFER_STALL_TIMEOUT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	data, err := yaml.Marshal(configMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

// configMap renders a config struct as a map keyed by the same
// mapstructure tags the loader reads, so dumped YAML loads back with
// identical values. Durations and byte sizes use their human-readable
// forms.
func configMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = strings.ToLower(typ.Field(i).Name)
		}
		result[key] = configValue(val.Field(i))
	}
	return result
}

func configValue(field reflect.Value) any {
	switch v := field.Interface().(type) {
	case time.Duration:
		return v.String()
	case config.ByteSize:
		return v.String()
	}

	switch field.Kind() {
	case reflect.Struct:
		return configMap(field.Interface())
	case reflect.Slice:
		out := make([]any, field.Len())
		for i := range out {
			out[i] = configValue(field.Index(i))
		}
		return out
	default:
		return field.Interface()
	}
}
