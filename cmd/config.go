package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "chronicle"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage chronicle configuration.

Running bare 'chronicle config' is the same as 'chronicle config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# chronicle configuration
# See: chronicle config show (for effective values and sources)

# State directory for the pid file and serve log (default: ~/.config/chronicle)
# state_dir: {{ .StateDir }}

# SQLite event store written by agent hooks (default: ~/.config/chronicle/chronicle.db)
# db_path: {{ .DBPath }}

buffer:
  # Events kept in memory; the oldest are evicted past this
  capacity: {{ .BufferCapacity }}

batch:
  # Quiet period before pending events are delivered
  window: {{ .BatchWindow }}
  # Deliver immediately once more than this many events are pending
  burst_threshold: {{ .BatchBurst }}
  # Upper bound on events per batch
  max_size: {{ .BatchMaxSize }}

health:
  heartbeat_interval: {{ .HeartbeatInterval }}
  heartbeat_timeout: {{ .HeartbeatTimeout }}
  # Missed heartbeats tolerated before the connection is marked unhealthy
  max_missed: {{ .MaxMissed }}

status:
  # A session with no activity for this long is idle
  idle_timeout: {{ .IdleTimeout }}
  # Error events before a session is flagged as failing
  error_threshold: {{ .ErrorThreshold }}
  refresh_interval: {{ .RefreshInterval }}

feed:
  poll_interval: {{ .PollInterval }}
  poll_limit: {{ .PollLimit }}
  # Follow a JSONL file instead of the SQLite store
  file: "{{ .FeedFile }}"

serve:
  addr: "{{ .ServeAddr }}"
  max_streams: {{ .MaxStreams }}

anthropic:
  # Used by 'chronicle recap'; ANTHROPIC_API_KEY is also honored
  model: "{{ .AnthropicModel }}"

log:
  # debug | info | warn | error
  level: {{ .LogLevel }}
  # text | json
  format: {{ .LogFormat }}
`

type configTemplateData struct {
	StateDir          string
	DBPath            string
	BufferCapacity    int
	BatchWindow       string
	BatchBurst        int
	BatchMaxSize      int
	HeartbeatInterval string
	HeartbeatTimeout  string
	MaxMissed         int
	IdleTimeout       string
	ErrorThreshold    int
	RefreshInterval   string
	PollInterval      string
	PollLimit         int
	FeedFile          string
	ServeAddr         string
	MaxStreams        int
	AnthropicModel    string
	LogLevel          string
	LogFormat         string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:          viper.GetString("state_dir"),
		DBPath:            viper.GetString("db_path"),
		BufferCapacity:    viper.GetInt("buffer.capacity"),
		BatchWindow:       viper.GetDuration("batch.window").String(),
		BatchBurst:        viper.GetInt("batch.burst_threshold"),
		BatchMaxSize:      viper.GetInt("batch.max_size"),
		HeartbeatInterval: viper.GetDuration("health.heartbeat_interval").String(),
		HeartbeatTimeout:  viper.GetDuration("health.heartbeat_timeout").String(),
		MaxMissed:         viper.GetInt("health.max_missed"),
		IdleTimeout:       viper.GetDuration("status.idle_timeout").String(),
		ErrorThreshold:    viper.GetInt("status.error_threshold"),
		RefreshInterval:   viper.GetDuration("status.refresh_interval").String(),
		PollInterval:      viper.GetDuration("feed.poll_interval").String(),
		PollLimit:         viper.GetInt("feed.poll_limit"),
		FeedFile:          viper.GetString("feed.file"),
		ServeAddr:         viper.GetString("serve.addr"),
		MaxStreams:        viper.GetInt("serve.max_streams"),
		AnthropicModel:    viper.GetString("anthropic.model"),
		LogLevel:          viper.GetString("log.level"),
		LogFormat:         viper.GetString("log.format"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = buildConfigKeys(
	"state_dir", "db_path",
	"buffer.capacity",
	"batch.window", "batch.burst_threshold", "batch.max_size",
	"health.heartbeat_interval", "health.heartbeat_timeout", "health.max_missed",
	"status.idle_timeout", "status.error_threshold", "status.refresh_interval",
	"feed.poll_interval", "feed.poll_limit", "feed.file",
	"serve.addr", "serve.max_streams",
	"anthropic.api_key", "anthropic.model",
	"log.level", "log.format",
)

// buildConfigKeys derives each key's env var the same way viper does.
func buildConfigKeys(keys ...string) []configKeyInfo {
	out := make([]configKeyInfo, len(keys))
	for i, k := range keys {
		out[i] = configKeyInfo{Key: k, EnvVar: "CHRONICLE_" + strings.ToUpper(strings.ReplaceAll(k, ".", "_"))}
	}
	return out
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Key == "anthropic.api_key" && viper.GetString(k.Key) != "" {
			val = "********"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-28s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set: set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'chronicle config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
