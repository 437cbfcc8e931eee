package main

import (
	"fmt"

	"webstream/internal/config"
)

func main() {
	fmt.Println("# webstream Environment Variables")
	fmt.Println()
	fmt.Println("Every setting of the configuration file can be overridden with an")
	fmt.Println("environment variable. Variables take precedence over the file and")
	fmt.Println("command-line flags take precedence over both.")
	fmt.Println()
	fmt.Println("## Available Environment Variables")
	fmt.Println()

	for _, example := range config.EnvExample(&config.Config{}) {
		fmt.Printf("- `%s`\n", example)
	}

	fmt.Println()
	fmt.Println("## Examples")
	fmt.Println()
	fmt.Println("```bash")
	fmt.Println("# Probe a different endpoint, five attempts of two seconds each")
	fmt.Printf("export %s_STREAM_URL=http://localhost:9000/stream\n", config.EnvPrefix)
	fmt.Printf("export %s_PROBE_MAXATTEMPTS=5\n", config.EnvPrefix)
	fmt.Printf("export %s_PROBE_TIMEOUTMS=2000\n", config.EnvPrefix)
	fmt.Println()
	fmt.Println("# Send an auth header with every stream request")
	fmt.Printf("export %s_STREAM_HEADERS='Authorization=Bearer token'\n", config.EnvPrefix)
	fmt.Println()
	fmt.Println("# Expose Prometheus metrics")
	fmt.Printf("export %s_METRICS_ENABLED=true\n", config.EnvPrefix)
	fmt.Printf("export %s_METRICS_ADDRESS=:9090\n", config.EnvPrefix)
	fmt.Println()
	fmt.Println("webstream probe")
	fmt.Println("```")
}
