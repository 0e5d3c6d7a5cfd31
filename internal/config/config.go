package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	GamePath         string   `mapstructure:"game_path"`
	WorkerURL        string   `mapstructure:"worker_url"`
	CatalogURL       string   `mapstructure:"catalog_url"`
	LogLevel         string   `mapstructure:"log_level"`
	LogFormat        string   `mapstructure:"log_format"`
	LogFile          string   `mapstructure:"log_file"`
	LogMaxSizeMB     int      `mapstructure:"log_max_size_mb"`
	LogMaxBackups    int      `mapstructure:"log_max_backups"`
	EventBufferSize  int      `mapstructure:"event_buffer_size"`
	MinFreeDiskGB    float64  `mapstructure:"min_free_disk_gb"`
	GameProcessNames []string `mapstructure:"game_process_names"`
}

func Default() *Config {
	return &Config{
		WorkerURL:        "ws://127.0.0.1:39700",
		CatalogURL:       "http://patch-bootver.gaveloc.example",
		LogLevel:         "info",
		LogFormat:        "text",
		LogMaxSizeMB:     10,
		LogMaxBackups:    3,
		EventBufferSize:  64,
		MinFreeDiskGB:    2.0,
		GameProcessNames: []string{"ffxiv_dx11.exe", "ffxiv.exe"},
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("launcher")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(Dir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("GAVELOC")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("game_path", cfg.GamePath)
	viper.Set("worker_url", cfg.WorkerURL)
	viper.Set("catalog_url", cfg.CatalogURL)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("log_file", cfg.LogFile)
	viper.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	viper.Set("log_max_backups", cfg.LogMaxBackups)
	viper.Set("event_buffer_size", cfg.EventBufferSize)
	viper.Set("min_free_disk_gb", cfg.MinFreeDiskGB)
	viper.Set("game_process_names", cfg.GameProcessNames)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(Dir(), "launcher.yaml")
		if err := os.MkdirAll(Dir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// Dir returns the per-user configuration directory for the launcher.
func Dir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("AppData"), "Gaveloc")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Gaveloc")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "gaveloc")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "gaveloc")
	}
}
