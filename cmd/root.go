package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/dpsconvert/internal/config"
	"github.com/kiesman99/dpsconvert/internal/convert"
	"github.com/kiesman99/dpsconvert/internal/logging"
	"github.com/kiesman99/dpsconvert/internal/transform"
	"github.com/kiesman99/dpsconvert/pkg/tile"
)

// version is set at build time with -ldflags "-X .../cmd.version=..."
var version = "dev"

const (
	configName    = "config"
	configSection = "pds_converter"
	envPrefix     = "DPS"
	defaultScale  = 5
)

// settings is the effective configuration of a conversion run
type settings struct {
	Source     string
	Output     string
	ConfigFile string
	Params     tile.Params
	Workers    int
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	var (
		verbose bool
		cfgFile string
	)

	rootCmd := &cobra.Command{
		Use:   "dpsconvert",
		Short: "Convert square grid map images for Dungeon Painter Studio",
		Long: `dpsconvert converts map images into the asset layout used by Dungeon Painter Studio.

Every PNG below the source directory is cropped to its visible content, padded
to a whole number of grid squares and written as a 100 pixel preview
(_preview.png) and a 200 pixels per square image (img.png) into
<output>/<parent directory>/<file name>/.

Defaults for --pixels, --scale and --optimize can be kept in a config file
named config.ini in the source directory:

  [pds_converter]
  pixels = 40
  scale = 5

config.json, config.toml, config.yaml and config.yml are read as well, with
the same keys below a pds_converter section.

Examples:
  # Maps drawn at 40 pixels per foot with 5 foot squares
  dpsconvert --source ./maps --output ./converted --pixels 40 --scale 5

  # Smooth the image at 300 pixels per square before the final resize
  dpsconvert -S ./maps -O ./converted -p 40 -s 5 -o 300

  # Convert four files at a time
  dpsconvert -S ./maps -j 4

  # Start HTTP server
  dpsconvert serve --port 8080`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := logging.New(cmd.ErrOrStderr(), logging.Level(verbose))
			cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, fs, cfgFile)
		},
	}

	cwd, err := os.Getwd()
	cobra.CheckErr(err)

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <source>/config.yaml)")

	// Directories
	rootCmd.Flags().StringP("source", "S", cwd, "directory from which to get the source images")
	rootCmd.Flags().StringP("output", "O", filepath.Join(cwd, tile.OutputDirName), "directory to which to save the result images")

	// Scaling
	rootCmd.Flags().IntP("pixels", "p", 0, "number of pixels per unit, i.e. pixels per foot")
	rootCmd.Flags().IntP("scale", "s", defaultScale, "number of units per square, i.e. 5 means each square represents 5ft")
	rootCmd.Flags().IntP("optimize", "o", 0, "optimize images for printing for this many pixels per square")

	rootCmd.Flags().IntP("workers", "j", 1, "number of images converted concurrently")

	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// Execute adds all child commands to the root command and runs it. This is
// called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd(afero.NewOsFs())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var runErr *convert.RunError
		if !errors.As(err, &runErr) {
			// Per-file failures have already been logged
			logging.New(os.Stderr, log.InfoLevel).Error(err)
		} else {
			logging.New(os.Stderr, log.InfoLevel).Error("Conversion finished with errors", "failed", runErr.Failed, "total", runErr.Total)
		}
		stop()
		os.Exit(1)
	}
}

func runConvert(cmd *cobra.Command, fs afero.Fs, cfgFile string) error {
	ctx := cmd.Context()
	logger := logging.FromContext(ctx)

	s, err := resolveSettings(cmd, fs, cfgFile)
	if err != nil {
		return err
	}

	if s.ConfigFile != "" {
		logger.Info("Using config file", "path", s.ConfigFile)
	}
	logger.Debug("Settings",
		"source", s.Source, "output", s.Output,
		"pixels", s.Params.PixelsPerUnit, "scale", s.Params.UnitsPerSquare,
		"optimize", s.Params.OptimizeTarget, "workers", s.Workers)

	converter, err := convert.New(fs, &convert.Options{
		Source:    s.Source,
		Output:    s.Output,
		Workers:   s.Workers,
		Transform: transform.DefaultOptions(s.Params),
	})
	if err != nil {
		return err
	}

	_, err = converter.Run(ctx)
	return err
}

// resolveSettings merges flags, environment, the config file in the source
// directory and defaults, and validates the result before any image is
// touched
func resolveSettings(cmd *cobra.Command, fs afero.Fs, cfgFile string) (*settings, error) {
	flags := cmd.Flags()

	source, _ := flags.GetString("source")
	if err := readableDir(fs, source); err != nil {
		return nil, err
	}

	output, _ := flags.GetString("output")
	if flags.Changed("output") {
		if err := readableDir(fs, output); err != nil {
			return nil, err
		}
	} else if err := fs.MkdirAll(output, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	used, err := loadConfig(v, fs, source, cfgFile)
	if err != nil {
		return nil, err
	}

	for _, key := range []string{"pixels", "scale", "optimize"} {
		if err := v.BindPFlag(key, flags.Lookup(key)); err != nil {
			return nil, err
		}
	}

	s := &settings{
		Source:     source,
		Output:     output,
		ConfigFile: used,
	}

	if s.Params.PixelsPerUnit, err = positiveInt(v, "pixels"); err != nil {
		return nil, err
	}
	if s.Params.UnitsPerSquare, err = positiveInt(v, "scale"); err != nil {
		return nil, err
	}
	if s.Params.OptimizeTarget, err = positiveInt(v, "optimize"); err != nil {
		return nil, err
	}

	s.Workers, _ = flags.GetInt("workers")
	if s.Workers < 1 {
		return nil, fmt.Errorf("workers: %d is an invalid positive int value", s.Workers)
	}

	return s, nil
}

// loadConfig reads the pds_converter section of the config file into v and
// returns the path of the file used. A missing default config file is not an
// error.
func loadConfig(v *viper.Viper, fs afero.Fs, source, cfgFile string) (string, error) {
	cfg, err := config.New()
	if err != nil {
		return "", err
	}
	cfg.SetFs(fs)

	if cfgFile != "" {
		// Use config file from the flag.
		cfg.SetConfigFile(cfgFile)
	} else {
		cfg.AddConfigPath(source)
		cfg.SetConfigName(configName)
	}

	if err := cfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}

	if section := cfg.Sub(configSection); section != nil {
		if err := v.MergeConfigMap(section.AllSettings()); err != nil {
			return "", fmt.Errorf("read config: %w", err)
		}
	}

	return cfg.ConfigFileUsed(), nil
}

// positiveInt returns the value of key, or 0 when it is absent. Explicitly
// set values must be positive integers.
func positiveInt(v *viper.Viper, key string) (int, error) {
	raw := v.Get(key)
	if raw == nil {
		return 0, nil
	}

	var n int
	var err error
	switch val := raw.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return 0, nil
		}
		n, err = strconv.Atoi(strings.TrimSpace(val))
	default:
		n, err = cast.ToIntE(val)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %v is an invalid positive int value", key, raw)
	}

	if v.IsSet(key) && n <= 0 {
		return 0, fmt.Errorf("%s: %d is an invalid positive int value", key, n)
	}
	return n, nil
}

// readableDir fails unless path is a directory that can be opened
func readableDir(fs afero.Fs, path string) error {
	info, err := fs.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("'%s' is not a valid path", path)
	}

	d, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("'%s' is not a readable path", path)
	}
	return d.Close()
}
